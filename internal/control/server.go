// Package control exposes the agent's local HTTP control surface. Every
// response is a JSON envelope with a "status" field; a failing request can
// never take the listener down.
package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/groveops/grove-agent/internal/command"
	"github.com/groveops/grove-agent/internal/manual"
	"github.com/groveops/grove-agent/internal/store"
)

const (
	// DefaultListenAddr is the loopback address the control server binds to.
	DefaultListenAddr = "127.0.0.1:8777"

	// maxBodyBytes caps the request body; anything larger is rejected
	// before reading.
	maxBodyBytes = 1 << 20
)

// Executor runs shell commands on behalf of /execCommand.
type Executor interface {
	ShellType() string
	ExecuteTimeout(ctx context.Context, cmdline string, timeout time.Duration) *command.Response
}

// ManualRunner drives manual task sequences on behalf of /manualTask.
type ManualRunner interface {
	Enabled() bool
	Running() bool
	Run(ctx context.Context, names []string, params map[string]string) ([]manual.StepResult, error)
}

// Gateway forwards raw method calls on behalf of /debugHandler.
type Gateway interface {
	Call(ctx context.Context, method, payload string) (string, error)
}

// RunHistory supplies the recent run list for /status.
type RunHistory interface {
	RecentRuns(limit int) ([]*store.TaskRun, error)
}

// Server is the agent control HTTP server.
type Server struct {
	addr    string
	token   string
	gateway Gateway
	exec    Executor
	runner  ManualRunner
	history RunHistory
	logger  *slog.Logger

	routes     map[string]route
	httpServer *http.Server
}

type route struct {
	method  string
	handler func(w http.ResponseWriter, r *http.Request)
}

// NewServer creates a control server. An empty token disables authentication.
func NewServer(addr, token string, gw Gateway, exec Executor, runner ManualRunner, history RunHistory, logger *slog.Logger) *Server {
	if addr == "" {
		addr = DefaultListenAddr
	}
	s := &Server{
		addr:    addr,
		token:   token,
		gateway: gw,
		exec:    exec,
		runner:  runner,
		history: history,
		logger:  logger,
	}
	s.routes = map[string]route{
		"/debugHandler": {http.MethodPost, s.handleDebug},
		"/manualTask":   {http.MethodPost, s.handleManual},
		"/execCommand":  {http.MethodPost, s.handleExec},
		"/status":       {http.MethodGet, s.handleStatus},
	}
	return s
}

// Start starts the control server. It blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	s.httpServer = &http.Server{
		Handler:     s,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("control server listening", "addr", listener.Addr().String())

	// Shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("control server shutdown error", "error", err)
		}
	}()

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// ServeHTTP dispatches a request through the static route table. Panics in
// handlers are recovered and surfaced as a 500 envelope.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("panic in control handler",
				"path", r.URL.Path,
				"panic", rec,
			)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"status":  "error",
				"message": fmt.Sprintf("internal error: %v", rec),
			})
		}
	}()

	rt, ok := s.routes[r.URL.Path]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "not_found"})
		return
	}

	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "unauthorized"})
		return
	}

	if r.Method != rt.method {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"status": "method_not_allowed"})
		return
	}

	rt.handler(w, r)
}

// authorized checks the Authorization header against the configured token.
// The header is accepted either raw or with a "Bearer " prefix. An empty
// configured token disables the check.
func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	header = strings.TrimPrefix(header, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(header), []byte(s.token)) == 1
}

// readBody reads exactly Content-Length bytes from the request. A missing,
// zero or oversized length is an error; so is a short read.
func readBody(r *http.Request) ([]byte, error) {
	if r.ContentLength <= 0 {
		return nil, errors.New("empty body")
	}
	if r.ContentLength > maxBodyBytes {
		return nil, fmt.Errorf("body too large: %d bytes", r.ContentLength)
	}
	body := make([]byte, r.ContentLength)
	if _, err := io.ReadFull(r.Body, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// decodeBody reads the request body and unmarshals it into v.
func decodeBody(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parse body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already out by now; an encode failure only loses this
	// one response.
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"status":  "error",
		"message": err.Error(),
	})
}
