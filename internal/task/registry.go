package task

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory constructs a task. Construction may fail, for example when a
// task's remote model cannot be prepared; the entry then stays
// unmaterialized and the next Get retries.
type Factory func() (Task, error)

// Registry holds task factories and materializes each task at most once.
// It is an explicit object handed to its consumers rather than package
// state, and Reset exists so tests get a clean slate.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	factory Factory

	once sync.Once
	unit *Unit
	err  error
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Register adds a factory under name. Registering a duplicate name replaces
// the previous factory only if it has not been materialized yet.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[name]; ok && existing.unit != nil {
		r.logger.Warn("ignoring re-registration of materialized task", "task", name)
		return
	}
	r.entries[name] = &entry{factory: factory}
}

// Get returns the unit for name, constructing the task on first use.
// Concurrent Gets of the same name construct exactly once. A failed
// construction is returned as an error and retried on the next Get.
func (r *Registry) Get(name string) (*Unit, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown task: %s", name)
	}

	e.once.Do(func() {
		t, err := e.factory()
		if err != nil {
			e.err = fmt.Errorf("prepare task %s: %w", name, err)
			return
		}
		e.unit = NewUnit(t, r.logger)
		r.logger.Debug("task materialized", "task", name)
	})

	if e.err != nil {
		// Allow a retry on the next Get.
		r.mu.Lock()
		err := e.err
		r.entries[name] = &entry{factory: e.factory}
		r.mu.Unlock()
		return nil, err
	}
	return e.unit, nil
}

// Names returns all registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Units materializes and returns all registered units in name order.
// Tasks that fail to materialize are logged and skipped.
func (r *Registry) Units() []*Unit {
	var units []*Unit
	for _, name := range r.Names() {
		u, err := r.Get(name)
		if err != nil {
			r.logger.Warn("task unavailable", "task", name, "error", err)
			continue
		}
		units = append(units, u)
	}
	return units
}

// Reset drops all entries and materialized tasks.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
}
