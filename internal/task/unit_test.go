package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedTask lets tests control check and run behavior.
type scriptedTask struct {
	name      string
	checkOK   bool
	checkRan  atomic.Int64
	runRan    atomic.Int64
	runErr    error
	runPanics bool
	block     chan struct{}
}

func (s *scriptedTask) Name() string    { return s.name }
func (s *scriptedTask) Group() Group    { return GroupOther }
func (s *scriptedTask) Fields() *Fields { return NewFields() }

func (s *scriptedTask) Check() bool {
	s.checkRan.Add(1)
	return s.checkOK
}

func (s *scriptedTask) Run(_ context.Context) error {
	s.runRan.Add(1)
	if s.block != nil {
		<-s.block
	}
	if s.runPanics {
		panic("boom")
	}
	return s.runErr
}

// ---------------------------------------------------------------------------
// Unit state machine
// ---------------------------------------------------------------------------

func TestUnitRunsWhenCheckPasses(t *testing.T) {
	task := &scriptedTask{name: "t", checkOK: true}
	u := NewUnit(task, slog.Default())

	out := u.Start(context.Background(), false)
	if out.Status != RunCompleted {
		t.Fatalf("expected completed, got %s", out.Status)
	}
	if task.checkRan.Load() != 1 || task.runRan.Load() != 1 {
		t.Error("check and run must each execute once")
	}
	if u.State() != StateIdle {
		t.Errorf("unit must return to idle, got %s", u.State())
	}
}

func TestUnitSkipsWhenCheckFails(t *testing.T) {
	task := &scriptedTask{name: "t", checkOK: false}
	u := NewUnit(task, slog.Default())

	out := u.Start(context.Background(), false)
	if out.Status != RunSkipped {
		t.Fatalf("expected skipped, got %s", out.Status)
	}
	if task.runRan.Load() != 0 {
		t.Error("run must not execute when check fails")
	}
}

func TestUnitForceBypassesCheck(t *testing.T) {
	task := &scriptedTask{name: "t", checkOK: false}
	u := NewUnit(task, slog.Default())

	out := u.Start(context.Background(), true)
	if out.Status != RunCompleted {
		t.Fatalf("expected completed, got %s", out.Status)
	}
	if task.checkRan.Load() != 0 {
		t.Error("forced start must not consult check")
	}
}

func TestUnitFailureReturnsToIdle(t *testing.T) {
	task := &scriptedTask{name: "t", checkOK: true, runErr: errors.New("remote down")}
	u := NewUnit(task, slog.Default())

	out := u.Start(context.Background(), false)
	if out.Status != RunFailed || out.Err == nil {
		t.Fatalf("expected failed outcome with error, got %+v", out)
	}
	if u.State() != StateIdle {
		t.Error("unit must be idle after failure")
	}

	// The unit must run again after a failure.
	task.runErr = nil
	if out := u.Start(context.Background(), false); out.Status != RunCompleted {
		t.Errorf("expected completed on retry, got %s", out.Status)
	}
}

func TestUnitPanicIsContained(t *testing.T) {
	task := &scriptedTask{name: "t", checkOK: true, runPanics: true}
	u := NewUnit(task, slog.Default())

	out := u.Start(context.Background(), false)
	if out.Status != RunFailed {
		t.Fatalf("expected failed, got %s", out.Status)
	}
	if out.Err == nil {
		t.Fatal("panic must surface as an error")
	}
	if u.State() != StateIdle {
		t.Error("unit must be idle after panic")
	}
}

func TestUnitOverlapSkipped(t *testing.T) {
	task := &scriptedTask{name: "t", checkOK: true, block: make(chan struct{})}
	u := NewUnit(task, slog.Default())

	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		u.Start(context.Background(), false)
	}()

	<-started
	// Wait until the first start holds the unit.
	deadline := time.After(2 * time.Second)
	for u.State() != StateRunning {
		select {
		case <-deadline:
			t.Fatal("first start never reached running")
		case <-time.After(time.Millisecond):
		}
	}

	out := u.Start(context.Background(), false)
	if out.Status != RunOverlap {
		t.Errorf("expected overlap, got %s", out.Status)
	}

	close(task.block)
	wg.Wait()

	if task.runRan.Load() != 1 {
		t.Errorf("expected exactly one run, got %d", task.runRan.Load())
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistryMaterializesOnce(t *testing.T) {
	r := NewRegistry(slog.Default())
	var built atomic.Int64
	r.Register("a", func() (Task, error) {
		built.Add(1)
		return &scriptedTask{name: "a", checkOK: true}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Get("a"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if built.Load() != 1 {
		t.Errorf("expected 1 construction, got %d", built.Load())
	}
}

func TestRegistryFailedConstructionRetries(t *testing.T) {
	r := NewRegistry(slog.Default())
	fail := true
	r.Register("b", func() (Task, error) {
		if fail {
			return nil, errors.New("model not ready")
		}
		return &scriptedTask{name: "b", checkOK: true}, nil
	})

	if _, err := r.Get("b"); err == nil {
		t.Fatal("expected error from failing factory")
	}

	fail = false
	u, err := r.Get("b")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if u.Name() != "b" {
		t.Errorf("unexpected unit %q", u.Name())
	}
}

func TestRegistryUnknownAndReset(t *testing.T) {
	r := NewRegistry(slog.Default())
	if _, err := r.Get("nope"); err == nil {
		t.Fatal("expected error for unknown task")
	}

	r.Register("c", func() (Task, error) {
		return &scriptedTask{name: "c", checkOK: true}, nil
	})
	if got := r.Names(); len(got) != 1 || got[0] != "c" {
		t.Fatalf("unexpected names %v", got)
	}

	r.Reset()
	if got := r.Names(); len(got) != 0 {
		t.Errorf("expected empty registry after reset, got %v", got)
	}
}

// ---------------------------------------------------------------------------
// Weekdays
// ---------------------------------------------------------------------------

func TestWeekdays(t *testing.T) {
	// 2026-08-31 is a Monday.
	monday := time.Date(2026, 8, 31, 9, 0, 0, 0, time.Local)
	sunday := monday.AddDate(0, 0, -1)

	all := EveryDay()
	if !all.Eligible(monday) || !all.Eligible(sunday) {
		t.Error("EveryDay must match every day")
	}

	weekdaysOnly := Days(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)
	if !weekdaysOnly.Eligible(monday) {
		t.Error("Monday must be eligible")
	}
	if weekdaysOnly.Eligible(sunday) {
		t.Error("Sunday must not be eligible")
	}
}
