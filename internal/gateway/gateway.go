// Package gateway defines the remote procedure surface used by tasks and
// the control server to reach the host application, plus the HTTP bridge
// implementation of it.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single bridge call.
const DefaultTimeout = 30 * time.Second

// Gateway invokes a named remote method with a JSON payload and returns
// the raw response body. An empty string return with a nil error is a
// valid outcome and means the remote side produced no data.
type Gateway interface {
	Call(ctx context.Context, method, payload string) (string, error)
}

// Bridge reaches the host application's hook bridge over HTTP. The bridge
// accepts a method name and an opaque JSON payload and relays them into the
// host process.
type Bridge struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBridge creates a bridge client for the given base URL.
func NewBridge(baseURL string, logger *slog.Logger) *Bridge {
	return &Bridge{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: logger,
	}
}

// bridgeEnvelope is the request body the hook bridge expects.
type bridgeEnvelope struct {
	Method  string `json:"method"`
	Payload string `json:"payload"`
}

// Call implements Gateway.
func (b *Bridge) Call(ctx context.Context, method, payload string) (string, error) {
	body, err := json.Marshal(&bridgeEnvelope{Method: method, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("marshal bridge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/invoke", strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("bridge call %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read bridge response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("bridge call %s: status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	b.logger.Debug("bridge call completed",
		"method", method,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_bytes", len(data),
	)

	return string(data), nil
}
