// Package tasks contains the concrete task implementations and their
// registration. Each task follows the same discipline: Check inspects
// local state only, Run talks to the remote side, and the daily guard is
// marked only after the terminal remote call succeeded.
package tasks

import (
	"log/slog"
	"time"

	"github.com/groveops/grove-agent/internal/gateway"
	"github.com/groveops/grove-agent/internal/store"
	"github.com/groveops/grove-agent/internal/task"
)

// Deps carries the shared collaborators tasks are built from. It is passed
// explicitly at registration instead of living in package state.
type Deps struct {
	Gateway gateway.Gateway
	Store   *store.Store
	Logger  *slog.Logger

	// Now is replaceable in tests; defaults to time.Now.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// RegisterAll registers every built-in task with the registry.
func RegisterAll(r *task.Registry, deps *Deps) {
	r.Register(SignInName, func() (task.Task, error) {
		return NewSignIn(deps), nil
	})
	r.Register(StepSyncName, func() (task.Task, error) {
		return NewStepSync(deps), nil
	})
}
