// Package scheduler drives the automatic task loop. Tasks run through
// their own check gates; the scheduler's job is pacing, yielding to manual
// sequences, and recording outcomes.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/groveops/grove-agent/internal/store"
	"github.com/groveops/grove-agent/internal/task"
)

const (
	// DefaultCheckInterval is how often the scheduler wakes to evaluate tasks.
	DefaultCheckInterval = 1 * time.Minute

	// GuardRetention is how many days of daily-guard state are kept.
	GuardRetention = 30

	// RunRetention is how long task run history is kept.
	RunRetention = 7 * 24 * time.Hour
)

// ManualGate reports whether a manual sequence currently holds the device.
type ManualGate interface {
	Running() bool
}

// Scheduler runs registered tasks on a fixed cadence.
type Scheduler struct {
	registry *task.Registry
	store    *store.Store
	gate     ManualGate
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// New creates a scheduler. A non-positive interval falls back to
// DefaultCheckInterval.
func New(registry *task.Registry, st *store.Store, gate ManualGate, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Scheduler{
		registry: registry,
		store:    st,
		gate:     gate,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the scheduler loop. It blocks until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.logger.Info("scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start to catch anything already due.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped by context")
			return
		case <-stopCh:
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop stops the scheduler loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
}

// Tick runs one scheduler pass: every registered task gets a non-forced
// Start, sequentially. The whole pass is skipped while a manual sequence
// is running.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.gate != nil && s.gate.Running() {
		s.logger.Debug("manual sequence in progress, skipping tick")
		return
	}

	for _, unit := range s.registry.Units() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		out := unit.Start(ctx, false)
		switch out.Status {
		case task.RunCompleted, task.RunFailed:
			errMsg := ""
			if out.Err != nil {
				errMsg = out.Err.Error()
			}
			if _, err := s.store.RecordRun(unit.Name(), string(out.Status), errMsg, out.Duration); err != nil {
				s.logger.Warn("failed to record run", "task", unit.Name(), "error", err)
			}
		}
	}

	s.cleanup()
}

// cleanup prunes expired guard state and old run history.
func (s *Scheduler) cleanup() {
	if err := s.store.PruneOlderThan(GuardRetention); err != nil {
		s.logger.Warn("failed to prune daily guard state", "error", err)
	}
	if err := s.store.PruneRunsOlderThan(RunRetention); err != nil {
		s.logger.Warn("failed to prune run history", "error", err)
	}
}
