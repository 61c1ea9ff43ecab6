// Package command provides the serialized command execution service that
// sits between callers (control routes, tasks) and the shell backends.
package command

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/groveops/grove-agent/internal/shell"
)

// DefaultTimeout bounds a whole Execute call, selection included.
const DefaultTimeout = 15 * time.Second

// Outcome classifies the result of an Execute call.
type Outcome int

const (
	// OutcomeSuccess means the command ran and exited zero.
	OutcomeSuccess Outcome = iota
	// OutcomeBackendError means the command ran but exited nonzero.
	OutcomeBackendError
	// OutcomeTimeout means the global deadline expired before completion.
	OutcomeTimeout
	// OutcomeNoBackend means no shell backend was available.
	OutcomeNoBackend
	// OutcomeInternal means an unexpected failure inside the service.
	OutcomeInternal
)

// String returns the wire name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeBackendError:
		return "backend_error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeNoBackend:
		return "no_backend"
	default:
		return "internal_error"
	}
}

// Response is the typed result of an Execute call. Callers branch on Kind;
// the remaining fields are populated per kind as documented.
type Response struct {
	// RequestID correlates this response with log lines.
	RequestID string

	Kind Outcome

	// Stdout is set for OutcomeSuccess, trimmed of surrounding whitespace.
	Stdout string

	// ExitCode and Stderr are set for OutcomeBackendError.
	ExitCode int
	Stderr   string

	// Message is set for OutcomeTimeout, OutcomeNoBackend and OutcomeInternal.
	Message string
}

// Service serializes command execution over a shell selector. Callers from
// any goroutine share one mutex so at most one command runs at a time; a
// caller that times out releases the lock like any other and does not
// poison the service for the next request.
type Service struct {
	selector *shell.Selector
	logger   *slog.Logger
	timeout  time.Duration

	mu sync.Mutex
}

// New creates a command execution service. A non-positive timeout falls
// back to DefaultTimeout.
func New(selector *shell.Selector, logger *slog.Logger, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		selector: selector,
		logger:   logger,
		timeout:  timeout,
	}
}

// ShellType returns the name of the most recently used backend, or
// "uninitialized" before the first execution.
func (s *Service) ShellType() string {
	return s.selector.SelectedName()
}

// Execute runs a command through the currently available backend and maps
// the raw result onto the outcome taxonomy. It never returns an error and
// never panics; every failure mode is a Response kind.
func (s *Service) Execute(ctx context.Context, cmdline string) *Response {
	return s.ExecuteTimeout(ctx, cmdline, s.timeout)
}

// ExecuteTimeout is Execute with a per-call override of the global timeout.
func (s *Service) ExecuteTimeout(ctx context.Context, cmdline string, timeout time.Duration) (resp *Response) {
	if timeout <= 0 {
		timeout = s.timeout
	}

	reqID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during command execution",
				"request_id", reqID,
				"panic", r,
			)
			resp = &Response{
				RequestID: reqID,
				Kind:      OutcomeInternal,
				Message:   fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Debug("executing command", "request_id", reqID)

	result, err := s.selector.Exec(ctx, cmdline, timeout)

	switch {
	case errors.Is(err, shell.ErrNoBackend):
		s.logger.Warn("command rejected, no backend",
			"request_id", reqID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return &Response{
			RequestID: reqID,
			Kind:      OutcomeNoBackend,
			Message:   shell.ErrNoBackend.Error(),
		}
	case err != nil:
		return &Response{
			RequestID: reqID,
			Kind:      OutcomeInternal,
			Message:   err.Error(),
		}
	case ctx.Err() == context.DeadlineExceeded:
		s.logger.Warn("command timed out",
			"request_id", reqID,
			"timeout", timeout.String(),
		)
		return &Response{
			RequestID: reqID,
			Kind:      OutcomeTimeout,
			Message:   fmt.Sprintf("command timed out after %s", timeout),
		}
	case result.Success():
		s.logger.Debug("command succeeded",
			"request_id", reqID,
			"backend", s.selector.SelectedName(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return &Response{
			RequestID: reqID,
			Kind:      OutcomeSuccess,
			Stdout:    result.TrimmedStdout(),
		}
	default:
		s.logger.Debug("command failed",
			"request_id", reqID,
			"exit_code", result.ExitCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return &Response{
			RequestID: reqID,
			Kind:      OutcomeBackendError,
			ExitCode:  result.ExitCode,
			Stderr:    result.Stderr,
		}
	}
}
