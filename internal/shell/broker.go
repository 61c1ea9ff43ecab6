package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// DefaultBrokerSocket is the default unix socket path of the privilege broker.
const DefaultBrokerSocket = "/run/grove-agent/broker.sock"

// BrokerShell executes commands through a separately running privilege
// broker reached over a unix socket. The broker can come and go at runtime,
// so no connection is held between calls; each request dials fresh and a
// dead broker is detected by the next probe.
type BrokerShell struct {
	socketPath string
}

// NewBrokerShell creates a broker-backed execution backend.
func NewBrokerShell(socketPath string) *BrokerShell {
	if socketPath == "" {
		socketPath = DefaultBrokerSocket
	}
	return &BrokerShell{socketPath: socketPath}
}

// Name implements Shell.
func (s *BrokerShell) Name() string { return "broker" }

// brokerRequest is one framed request to the broker. Exactly one JSON
// object is written per connection and one read back.
type brokerRequest struct {
	Op        string `json:"op"`
	Command   string `json:"command,omitempty"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

type brokerResponse struct {
	OK       bool   `json:"ok"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// Available implements Shell. It dials the socket and sends a ping.
func (s *BrokerShell) Available(ctx context.Context) bool {
	resp, err := s.roundTrip(ctx, &brokerRequest{Op: "ping"}, DefaultProbeTimeout)
	return err == nil && resp.OK
}

// Exec implements Shell.
func (s *BrokerShell) Exec(ctx context.Context, command string, timeout time.Duration) *Result {
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	req := &brokerRequest{
		Op:        "exec",
		Command:   command,
		TimeoutMs: timeout.Milliseconds(),
	}
	// Allow a little slack over the command timeout for the round trip itself.
	resp, err := s.roundTrip(ctx, req, timeout+time.Second)
	if err != nil {
		return errorResult(fmt.Sprintf("broker request failed: %v", err))
	}
	if !resp.OK && resp.Error != "" {
		return errorResult("broker error: " + resp.Error)
	}
	return &Result{
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		ExitCode: resp.ExitCode,
	}
}

// roundTrip performs a single request/response exchange on a fresh connection.
func (s *BrokerShell) roundTrip(ctx context.Context, req *brokerRequest, timeout time.Duration) (*brokerResponse, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	var resp brokerResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &resp, nil
}
