// Package manual executes operator-triggered task sequences. A manual
// sequence runs tasks in the exact order requested, bypassing their checks,
// and holds a running flag the automatic scheduler yields to.
package manual

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/groveops/grove-agent/internal/store"
	"github.com/groveops/grove-agent/internal/task"
)

// enabledSetting is the settings key persisting the manual enable switch.
const enabledSetting = "manual_enabled"

// ErrBusy is returned when a sequence is requested while another is running.
var ErrBusy = fmt.Errorf("a manual sequence is already running")

// ErrDisabled is returned when manual execution is switched off.
var ErrDisabled = fmt.Errorf("manual execution is disabled")

// StepResult describes one step of a completed sequence.
type StepResult struct {
	Task    string
	Outcome task.RunStatus
	Err     error
}

// Runner executes manual sequences. At most one sequence runs at a time;
// within a sequence, tasks run strictly in request order and a failing
// step is logged and skipped without aborting the rest.
type Runner struct {
	registry *task.Registry
	store    *store.Store
	logger   *slog.Logger

	enabled atomic.Bool
	running atomic.Bool
}

// New creates a manual runner, restoring the enable switch from the store.
func New(registry *task.Registry, st *store.Store, logger *slog.Logger) *Runner {
	r := &Runner{
		registry: registry,
		store:    st,
		logger:   logger,
	}
	v, err := st.GetSetting(enabledSetting, "true")
	if err != nil {
		logger.Warn("failed to load manual enable switch, defaulting on", "error", err)
		v = "true"
	}
	r.enabled.Store(v == "true")
	return r
}

// Enabled reports the manual enable switch.
func (r *Runner) Enabled() bool {
	return r.enabled.Load()
}

// SetEnabled flips the manual enable switch and persists it.
func (r *Runner) SetEnabled(v bool) error {
	r.enabled.Store(v)
	return r.store.SetSetting(enabledSetting, strconv.FormatBool(v))
}

// Running reports whether a manual sequence is currently executing. The
// automatic scheduler consults this to stay out of the way.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Run executes the named tasks in order, first applying any matching named
// parameters to each task's fields. It returns without doing anything when
// manual execution is disabled, the list is empty, or another sequence is
// already running; each of those is a logged no-op surfaced as a typed
// error (nil for the empty list). The running flag is released on every
// path, panics included.
func (r *Runner) Run(ctx context.Context, names []string, params map[string]string) ([]StepResult, error) {
	if !r.enabled.Load() {
		r.logger.Info("manual sequence rejected, disabled")
		return nil, ErrDisabled
	}
	if len(names) == 0 {
		r.logger.Info("manual sequence rejected, no tasks requested")
		return nil, nil
	}
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Info("manual sequence rejected, already running")
		return nil, ErrBusy
	}
	defer r.running.Store(false)

	seqID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	start := time.Now()
	r.logger.Info("manual sequence starting",
		"sequence_id", seqID,
		"tasks", names,
	)

	results := make([]StepResult, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			r.logger.Info("manual sequence interrupted", "sequence_id", seqID)
			break
		}
		results = append(results, r.runStep(ctx, seqID, name, params))
	}

	r.logger.Info("manual sequence finished",
		"sequence_id", seqID,
		"steps", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

// runStep resolves and force-runs one task, isolating its failure from the
// rest of the sequence. A bad parameter value fails only this step.
func (r *Runner) runStep(ctx context.Context, seqID, name string, params map[string]string) StepResult {
	unit, err := r.registry.Get(name)
	if err != nil {
		r.logger.Error("manual step unavailable",
			"sequence_id", seqID,
			"task", name,
			"error", err,
		)
		r.record(name, string(task.RunFailed), err.Error(), 0)
		return StepResult{Task: name, Outcome: task.RunFailed, Err: err}
	}

	if err := unit.Task().Fields().Apply(params); err != nil {
		r.logger.Error("manual step parameter rejected",
			"sequence_id", seqID,
			"task", name,
			"error", err,
		)
		r.record(name, string(task.RunFailed), err.Error(), 0)
		return StepResult{Task: name, Outcome: task.RunFailed, Err: err}
	}

	out := unit.Start(ctx, true)
	errMsg := ""
	if out.Err != nil {
		errMsg = out.Err.Error()
	}
	r.record(name, string(out.Status), errMsg, out.Duration)
	return StepResult{Task: name, Outcome: out.Status, Err: out.Err}
}

func (r *Runner) record(name, status, errMsg string, d time.Duration) {
	if _, err := r.store.RecordRun(name, status, errMsg, d); err != nil {
		r.logger.Warn("failed to record manual run", "task", name, "error", err)
	}
}
