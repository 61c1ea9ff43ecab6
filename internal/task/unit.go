package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the execution state of a Unit.
type State int32

const (
	StateIdle State = iota
	StateChecking
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateRunning:
		return "running"
	default:
		return "idle"
	}
}

// RunStatus classifies one Start invocation.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunSkipped   RunStatus = "skipped"
	RunFailed    RunStatus = "failed"
	RunOverlap   RunStatus = "overlap"
)

// RunOutcome describes what a Start call did.
type RunOutcome struct {
	Status   RunStatus
	Err      error
	Duration time.Duration
}

// Unit wraps a Task with the execution state machine. A unit is Idle
// between invocations; Start moves it through Checking and, when the check
// passes (or is forced), Running, then back to Idle on every path including
// panics. Overlapping Start calls on the same unit are rejected as skips
// rather than queued.
type Unit struct {
	task   Task
	logger *slog.Logger

	mu    sync.Mutex
	state atomic.Int32
}

// NewUnit wraps a task.
func NewUnit(t Task, logger *slog.Logger) *Unit {
	return &Unit{
		task:   t,
		logger: logger.With("task", t.Name()),
	}
}

// Task returns the wrapped task.
func (u *Unit) Task() Task { return u.task }

// Name returns the wrapped task's name.
func (u *Unit) Name() string { return u.task.Name() }

// State returns the current execution state.
func (u *Unit) State() State {
	return State(u.state.Load())
}

// Start runs one check-then-act cycle. With force set the check gate is
// bypassed, which is the manual execution path. Start never panics; a
// panicking task body is converted into a failed outcome.
func (u *Unit) Start(ctx context.Context, force bool) *RunOutcome {
	if !u.mu.TryLock() {
		u.logger.Debug("task already in progress, skipping")
		return &RunOutcome{Status: RunOverlap}
	}
	defer u.mu.Unlock()

	start := time.Now()
	u.state.Store(int32(StateChecking))
	defer u.state.Store(int32(StateIdle))

	u.logger.Info("task starting", "forced", force)

	if !force && !u.safeCheck() {
		u.logger.Info("task skipped by check")
		return &RunOutcome{Status: RunSkipped, Duration: time.Since(start)}
	}

	u.state.Store(int32(StateRunning))
	err := u.safeRun(ctx)
	duration := time.Since(start)

	if err != nil {
		u.logger.Error("task failed", "error", err, "duration_ms", duration.Milliseconds())
		return &RunOutcome{Status: RunFailed, Err: err, Duration: duration}
	}

	u.logger.Info("task completed", "duration_ms", duration.Milliseconds())
	return &RunOutcome{Status: RunCompleted, Duration: duration}
}

// safeCheck runs the task's check, treating a panic as "do not run".
func (u *Unit) safeCheck() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("panic in task check", "panic", r)
			ok = false
		}
	}()
	return u.task.Check()
}

// safeRun runs the task body, converting a panic into an error.
func (u *Unit) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("panic in task run", "panic", r)
			err = fmt.Errorf("task %s panicked: %v", u.task.Name(), r)
		}
	}()
	return u.task.Run(ctx)
}
