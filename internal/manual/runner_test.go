package manual

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/groveops/grove-agent/internal/store"
	"github.com/groveops/grove-agent/internal/task"
)

// recordingTask notes run order and can fail, panic or block.
type recordingTask struct {
	name   string
	log    *[]string
	logMu  *sync.Mutex
	err    error
	panics bool
	block  chan struct{}
}

func (r *recordingTask) Name() string { return r.name }

func (r *recordingTask) Group() task.Group { return task.GroupOther }

func (r *recordingTask) Fields() *task.Fields { return task.NewFields() }

func (r *recordingTask) Check() bool { return false }

func (r *recordingTask) Run(_ context.Context) error {
	r.logMu.Lock()
	*r.log = append(*r.log, r.name)
	r.logMu.Unlock()
	if r.block != nil {
		<-r.block
	}
	if r.panics {
		panic("step exploded")
	}
	return r.err
}

type fixture struct {
	runner   *Runner
	registry *task.Registry
	store    *store.Store
	order    []string
	orderMu  sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		registry: task.NewRegistry(slog.Default()),
		store:    s,
	}
	f.runner = New(f.registry, s, slog.Default())
	return f
}

func (f *fixture) addTask(t *recordingTask) {
	t.log = &f.order
	t.logMu = &f.orderMu
	f.registry.Register(t.name, func() (task.Task, error) {
		return t, nil
	})
}

// ---------------------------------------------------------------------------
// Ordering and failure isolation
// ---------------------------------------------------------------------------

func TestRunExecutesInRequestOrder(t *testing.T) {
	f := newFixture(t)
	f.addTask(&recordingTask{name: "a"})
	f.addTask(&recordingTask{name: "b"})
	f.addTask(&recordingTask{name: "c"})

	results, err := f.runner.Run(context.Background(), []string{"c", "a", "b"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	want := []string{"c", "a", "b"}
	for i, name := range want {
		if f.order[i] != name {
			t.Fatalf("order mismatch at %d: want %s, got %s", i, name, f.order[i])
		}
	}
}

func TestRunFailingStepDoesNotAbortSequence(t *testing.T) {
	f := newFixture(t)
	f.addTask(&recordingTask{name: "a", err: errors.New("remote down")})
	f.addTask(&recordingTask{name: "b"})

	results, err := f.runner.Run(context.Background(), []string{"a", "b"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Outcome != task.RunFailed {
		t.Errorf("step a should fail, got %s", results[0].Outcome)
	}
	if results[1].Outcome != task.RunCompleted {
		t.Errorf("step b should complete, got %s", results[1].Outcome)
	}
	if len(f.order) != 2 {
		t.Errorf("both tasks must have run, got %v", f.order)
	}
}

func TestRunPanickingStepIsolated(t *testing.T) {
	f := newFixture(t)
	f.addTask(&recordingTask{name: "a", panics: true})
	f.addTask(&recordingTask{name: "b"})

	results, err := f.runner.Run(context.Background(), []string{"a", "b"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Outcome != task.RunFailed || results[0].Err == nil {
		t.Errorf("panicking step must report failure, got %+v", results[0])
	}
	if results[1].Outcome != task.RunCompleted {
		t.Errorf("sequence must continue past a panic, got %s", results[1].Outcome)
	}
	if f.runner.Running() {
		t.Error("running flag must be released after a panic")
	}
}

func TestRunUnknownTaskIsStepFailure(t *testing.T) {
	f := newFixture(t)
	f.addTask(&recordingTask{name: "b"})

	results, err := f.runner.Run(context.Background(), []string{"ghost", "b"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Outcome != task.RunFailed {
		t.Errorf("unknown task must be a step failure, got %s", results[0].Outcome)
	}
	if results[1].Outcome != task.RunCompleted {
		t.Errorf("sequence must continue, got %s", results[1].Outcome)
	}
}

// ---------------------------------------------------------------------------
// Named parameters
// ---------------------------------------------------------------------------

// paramTask exposes one int field and records the value it ran with.
type paramTask struct {
	limit   *task.IntField
	fields  *task.Fields
	ranWith int
}

func newParamTask() *paramTask {
	limit := task.NewIntField("limit", "Batch limit", 10, 1, 100)
	return &paramTask{limit: limit, fields: task.NewFields(limit)}
}

func (p *paramTask) Name() string { return "batched" }

func (p *paramTask) Group() task.Group { return task.GroupOther }

func (p *paramTask) Fields() *task.Fields { return p.fields }

func (p *paramTask) Check() bool { return false }

func (p *paramTask) Run(_ context.Context) error {
	p.ranWith = p.limit.Value()
	return nil
}

func TestRunAppliesNamedParameters(t *testing.T) {
	f := newFixture(t)
	pt := newParamTask()
	f.registry.Register("batched", func() (task.Task, error) { return pt, nil })

	results, err := f.runner.Run(context.Background(), []string{"batched"},
		map[string]string{"limit": "25", "unrelated": "ignored"})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Outcome != task.RunCompleted {
		t.Fatalf("expected completion, got %s", results[0].Outcome)
	}
	if pt.ranWith != 25 {
		t.Errorf("parameter not applied, ran with %d", pt.ranWith)
	}
}

func TestRunBadParameterFailsOnlyThatStep(t *testing.T) {
	f := newFixture(t)
	pt := newParamTask()
	f.registry.Register("batched", func() (task.Task, error) { return pt, nil })
	f.addTask(&recordingTask{name: "b"})

	results, err := f.runner.Run(context.Background(), []string{"batched", "b"},
		map[string]string{"limit": "not-a-number"})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Outcome != task.RunFailed {
		t.Errorf("bad parameter must fail the step, got %s", results[0].Outcome)
	}
	if results[1].Outcome != task.RunCompleted {
		t.Errorf("sequence must continue, got %s", results[1].Outcome)
	}
}

// ---------------------------------------------------------------------------
// Preconditions
// ---------------------------------------------------------------------------

func TestRunDisabled(t *testing.T) {
	f := newFixture(t)
	f.addTask(&recordingTask{name: "a"})

	if err := f.runner.SetEnabled(false); err != nil {
		t.Fatal(err)
	}
	_, err := f.runner.Run(context.Background(), []string{"a"}, nil)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if len(f.order) != 0 {
		t.Error("disabled runner must not execute anything")
	}
}

func TestRunEmptyListNoOp(t *testing.T) {
	f := newFixture(t)
	results, err := f.runner.Run(context.Background(), nil, nil)
	if err != nil || results != nil {
		t.Fatalf("empty list must be a silent no-op, got %v %v", results, err)
	}
}

func TestRunMutualExclusion(t *testing.T) {
	f := newFixture(t)
	blocker := &recordingTask{name: "slow", block: make(chan struct{})}
	f.addTask(blocker)

	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		f.runner.Run(context.Background(), []string{"slow"}, nil)
	}()

	<-started
	deadline := time.After(2 * time.Second)
	for !f.runner.Running() {
		select {
		case <-deadline:
			t.Fatal("first sequence never started")
		case <-time.After(time.Millisecond):
		}
	}

	_, err := f.runner.Run(context.Background(), []string{"slow"}, nil)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(blocker.block)
	wg.Wait()

	if f.runner.Running() {
		t.Error("running flag must clear after the sequence")
	}

	// A new sequence is accepted once the previous one finished.
	blocker.block = nil
	if _, err := f.runner.Run(context.Background(), []string{"slow"}, nil); err != nil {
		t.Errorf("expected runner to accept a new sequence, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

func TestEnableSwitchPersisted(t *testing.T) {
	f := newFixture(t)
	if !f.runner.Enabled() {
		t.Fatal("runner must default to enabled")
	}
	if err := f.runner.SetEnabled(false); err != nil {
		t.Fatal(err)
	}

	// A new runner over the same store restores the switch.
	again := New(f.registry, f.store, slog.Default())
	if again.Enabled() {
		t.Error("enable switch must persist across restarts")
	}
}

func TestStepsRecordedInHistory(t *testing.T) {
	f := newFixture(t)
	f.addTask(&recordingTask{name: "a"})
	f.addTask(&recordingTask{name: "b", err: errors.New("nope")})

	if _, err := f.runner.Run(context.Background(), []string{"a", "b"}, nil); err != nil {
		t.Fatal(err)
	}

	runs, err := f.store.RecentRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 recorded runs, got %d", len(runs))
	}
}
