package shell

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// UninitializedName is reported before the first successful execution.
const UninitializedName = "uninitialized"

// Selector picks a backend for each execution. The backend list is fixed at
// construction in preference order; every Exec probes from the top so
// backends that appear or disappear at runtime are picked up or dropped on
// the very next call.
type Selector struct {
	backends []Shell
	logger   *slog.Logger

	// selectedName is the name of the backend used by the most recent
	// successful selection. Read lock-free by status reporting.
	selectedName atomic.Value
}

// NewSelector creates a selector over the given backends in preference order.
func NewSelector(logger *slog.Logger, backends ...Shell) *Selector {
	s := &Selector{
		backends: backends,
		logger:   logger,
	}
	s.selectedName.Store(UninitializedName)
	return s
}

// NewDefaultSelector creates a selector with the standard backend order:
// root first, then the privilege broker, then the unprivileged user shell.
func NewDefaultSelector(logger *slog.Logger, brokerSocket string) *Selector {
	return NewSelector(logger,
		NewRootShell(),
		NewBrokerShell(brokerSocket),
		NewUserShell(),
	)
}

// SelectedName returns the name of the last backend that executed a
// command, or "uninitialized" if nothing has run yet.
func (s *Selector) SelectedName() string {
	return s.selectedName.Load().(string)
}

// Exec selects a backend and runs the command under it. Selection happens
// on every call; a previously working backend that has since vanished is
// skipped in favor of the next one in order. When no backend probes
// healthy, ErrNoBackend is returned and the selected name is left unchanged.
func (s *Selector) Exec(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	backend := s.pick(ctx)
	if backend == nil {
		s.logger.Warn("no shell backend available")
		return nil, ErrNoBackend
	}

	s.selectedName.Store(backend.Name())
	s.logger.Debug("executing command", "backend", backend.Name())
	return backend.Exec(ctx, command, timeout), nil
}

func (s *Selector) pick(ctx context.Context) Shell {
	for _, b := range s.backends {
		if b.Available(ctx) {
			return b
		}
		s.logger.Debug("shell backend unavailable", "backend", b.Name())
	}
	return nil
}
