// Package main is the entry point for the grove agent.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/groveops/grove-agent/internal/command"
	"github.com/groveops/grove-agent/internal/control"
	"github.com/groveops/grove-agent/internal/credentials"
	"github.com/groveops/grove-agent/internal/gateway"
	"github.com/groveops/grove-agent/internal/manual"
	"github.com/groveops/grove-agent/internal/scheduler"
	"github.com/groveops/grove-agent/internal/shell"
	"github.com/groveops/grove-agent/internal/store"
	"github.com/groveops/grove-agent/internal/task"
	"github.com/groveops/grove-agent/internal/tasks"
	"github.com/groveops/grove-agent/internal/validate"
)

// version is set at build time via -ldflags.
var version = "dev"

// Config holds the agent configuration.
type Config struct {
	// Control surface
	ListenAddr string `validate:"required,hostname_port"`
	Token      string

	// Remote bridge
	BridgeURL string `validate:"omitempty,url"`

	// Shell backends
	BrokerSocket string `validate:"required"`

	// Storage
	DataDir string `validate:"required"`

	// Scheduling
	CheckInterval time.Duration `validate:"gte=0"`

	// Logging
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`
}

func main() {
	// Check for subcommands before parsing flags
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			fmt.Printf("grove-agent %s\n", version)
			return
		case "token":
			runToken(os.Args[2:])
			return
		}
	}

	cfg := parseFlags()

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Load stored credentials; flags and environment win over the vault.
	credStore := credentials.NewStore(cfg.DataDir)
	if credStore.Exists() {
		creds, err := credStore.Load()
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			logger.Info("hint: run 'grove-agent token set' to store a new token",
				"path", credStore.DataDir())
			os.Exit(1)
		}
		if cfg.Token == "" {
			cfg.Token = creds.Token
		}
		if cfg.BridgeURL == "" {
			cfg.BridgeURL = creds.BridgeURL
		}
		logger.Info("credentials loaded", "data_dir", credStore.DataDir())
	}

	if cfg.BridgeURL == "" {
		logger.Error("bridge URL required")
		logger.Info("usage: grove-agent -bridge=<url> or GROVE_BRIDGE_URL")
		os.Exit(1)
	}
	if cfg.Token == "" {
		logger.Warn("no control token configured, control API is unauthenticated")
	}

	if err := validate.Struct(cfg); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize the persistent store
	st, err := store.New(cfg.DataDir)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Shell backends and the serialized command service
	selector := shell.NewDefaultSelector(logger, cfg.BrokerSocket)
	cmdSvc := command.New(selector, logger, 0)

	// Remote bridge gateway
	bridge := gateway.NewBridge(cfg.BridgeURL, logger)

	// Task registry
	registry := task.NewRegistry(logger)
	tasks.RegisterAll(registry, &tasks.Deps{
		Gateway: bridge,
		Store:   st,
		Logger:  logger,
	})

	// Manual runner and the automatic scheduler
	runner := manual.New(registry, st, logger)
	sched := scheduler.New(registry, st, runner, logger, cfg.CheckInterval)
	go sched.Start(ctx)

	// Control server
	srv := control.NewServer(cfg.ListenAddr, cfg.Token, bridge, cmdSvc, runner, st, logger)

	logger.Info("starting agent",
		"listen", cfg.ListenAddr,
		"bridge", cfg.BridgeURL,
		"data_dir", cfg.DataDir,
		"version", version,
	)

	if err := srv.Start(ctx); err != nil {
		logger.Error("control server failed", "error", err)
		os.Exit(1)
	}

	sched.Stop()
	logger.Info("agent stopped")
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ListenAddr, "listen", control.DefaultListenAddr, "Control server listen address")
	flag.StringVar(&cfg.Token, "token", "", "Control API token (overrides stored credentials)")
	flag.StringVar(&cfg.BridgeURL, "bridge", "", "Bridge base URL for remote method calls")
	flag.StringVar(&cfg.BrokerSocket, "broker-socket", shell.DefaultBrokerSocket, "Broker shell unix socket path")
	flag.StringVar(&cfg.DataDir, "data-dir", credentials.DefaultDataDir, "Data directory for state and credentials")
	flag.DurationVar(&cfg.CheckInterval, "check-interval", scheduler.DefaultCheckInterval, "Automatic task check interval")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", "text", "Log format (text, json)")
	flag.Parse()

	// Allow environment variables to override
	if v := os.Getenv("GROVE_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("GROVE_BRIDGE_URL"); v != "" {
		cfg.BridgeURL = v
	}
	if v := os.Getenv("GROVE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("GROVE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	return cfg
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var slogHandler slog.Handler
	if format == "json" {
		slogHandler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		slogHandler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(slogHandler)
}

// runToken handles the "token" subcommand.
// Usage: grove-agent token set [--data-dir DIR] [--bridge URL]
func runToken(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: grove-agent token set [--data-dir <dir>] [--bridge <url>]")
		os.Exit(1)
	}

	switch args[0] {
	case "set":
		fs := flag.NewFlagSet("token set", flag.ExitOnError)
		dataDir := fs.String("data-dir", credentials.DefaultDataDir, "Data directory for credentials")
		bridgeURL := fs.String("bridge", "", "Bridge base URL to store alongside the token")
		fs.Parse(args[1:])

		runTokenSet(*dataDir, *bridgeURL)
	default:
		fmt.Fprintf(os.Stderr, "unknown token subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: grove-agent token set [--data-dir <dir>] [--bridge <url>]")
		os.Exit(1)
	}
}

// runTokenSet interactively prompts for the control token and stores it
// encrypted in the credential vault.
func runTokenSet(dataDir, bridgeURL string) {
	fmt.Print("Enter control token: ")
	tok1, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to read token: %v\n", err)
		os.Exit(1)
	}

	fmt.Print("Confirm token: ")
	tok2, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to read confirmation: %v\n", err)
		os.Exit(1)
	}

	if string(tok1) != string(tok2) {
		fmt.Fprintln(os.Stderr, "error: tokens do not match")
		os.Exit(1)
	}
	if len(tok1) == 0 {
		fmt.Fprintln(os.Stderr, "error: token must not be empty")
		os.Exit(1)
	}

	credStore := credentials.NewStore(dataDir)

	// Keep an already stored bridge URL unless a new one was given.
	if bridgeURL == "" && credStore.Exists() {
		if creds, err := credStore.Load(); err == nil {
			bridgeURL = creds.BridgeURL
		}
	}

	creds := &credentials.Credentials{
		Token:     string(tok1),
		BridgeURL: bridgeURL,
	}
	if err := credStore.Save(creds); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to save credentials: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Token saved to %s\n", credStore.DataDir())
}
