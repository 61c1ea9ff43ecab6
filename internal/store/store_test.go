package store

import (
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// setDay pins the store's clock to a fixed day.
func setDay(s *Store, day string) {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		panic(err)
	}
	s.now = func() time.Time { return t }
}

// ---------------------------------------------------------------------------
// Daily flags
// ---------------------------------------------------------------------------

func TestFlagLifecycle(t *testing.T) {
	s := newTestStore(t)

	done, err := s.IsDone("member::signIn")
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("flag must start unset")
	}

	if err := s.MarkDone("member::signIn"); err != nil {
		t.Fatal(err)
	}
	done, err = s.IsDone("member::signIn")
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("flag must be set after MarkDone")
	}

	// Marking again is a no-op, not an error.
	if err := s.MarkDone("member::signIn"); err != nil {
		t.Fatal(err)
	}
}

func TestFlagIsDayScoped(t *testing.T) {
	s := newTestStore(t)

	setDay(s, "2026-08-30")
	if err := s.MarkDone("steps::upload"); err != nil {
		t.Fatal(err)
	}

	setDay(s, "2026-08-31")
	done, err := s.IsDone("steps::upload")
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Error("yesterday's flag must not carry into today")
	}

	setDay(s, "2026-08-30")
	done, err = s.IsDone("steps::upload")
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Error("the original day's flag must still be set")
	}
}

func TestTargetFlagsIndependent(t *testing.T) {
	s := newTestStore(t)

	if err := s.MarkTarget("forest::water", "friend-a"); err != nil {
		t.Fatal(err)
	}

	doneA, _ := s.IsTargetDone("forest::water", "friend-a")
	doneB, _ := s.IsTargetDone("forest::water", "friend-b")
	plain, _ := s.IsDone("forest::water")
	if !doneA {
		t.Error("marked target must read done")
	}
	if doneB {
		t.Error("unmarked target must read not done")
	}
	if plain {
		t.Error("target mark must not set the plain flag")
	}
}

func TestMarkTargetConcurrent(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.MarkTarget("race::key", "t"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	done, err := s.IsTargetDone("race::key", "t")
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Error("flag must be set after concurrent marks")
	}
}

// ---------------------------------------------------------------------------
// Counters
// ---------------------------------------------------------------------------

func TestCounterAccumulates(t *testing.T) {
	s := newTestStore(t)

	if n, err := s.AddCount("steps::batches", 2); err != nil || n != 2 {
		t.Fatalf("expected 2, got %d (%v)", n, err)
	}
	if n, err := s.AddCount("steps::batches", 3); err != nil || n != 5 {
		t.Fatalf("expected 5, got %d (%v)", n, err)
	}
	if n, err := s.GetCount("steps::batches"); err != nil || n != 5 {
		t.Fatalf("expected 5, got %d (%v)", n, err)
	}
	if n, err := s.GetCount("unset"); err != nil || n != 0 {
		t.Fatalf("unset counter must read 0, got %d (%v)", n, err)
	}
}

func TestCounterDayScoped(t *testing.T) {
	s := newTestStore(t)

	setDay(s, "2026-08-30")
	s.AddCount("k", 7)

	setDay(s, "2026-08-31")
	if n, _ := s.GetCount("k"); n != 0 {
		t.Errorf("counter must reset on day rollover, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Pruning
// ---------------------------------------------------------------------------

func TestPruneOlderThan(t *testing.T) {
	s := newTestStore(t)

	setDay(s, "2026-07-01")
	s.MarkDone("old")
	s.AddCount("old", 1)

	setDay(s, "2026-08-29")
	s.MarkDone("recent")

	setDay(s, "2026-08-31")
	if err := s.PruneOlderThan(30); err != nil {
		t.Fatal(err)
	}

	setDay(s, "2026-07-01")
	if done, _ := s.IsDone("old"); done {
		t.Error("flag older than retention must be pruned")
	}
	if n, _ := s.GetCount("old"); n != 0 {
		t.Error("counter older than retention must be pruned")
	}

	setDay(s, "2026-08-29")
	if done, _ := s.IsDone("recent"); !done {
		t.Error("flag within retention must survive")
	}
}

// ---------------------------------------------------------------------------
// Run history and settings
// ---------------------------------------------------------------------------

func TestRunHistory(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.RecordRun("signin", "success", "", 120*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.RecordRun("steps", "failed", "remote error", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatal("run IDs must be unique")
	}

	runs, err := s.RecentRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Task != "steps" {
		t.Errorf("expected newest first, got %q", runs[0].Task)
	}
	if runs[0].Error != "remote error" || runs[0].DurationMs != 1000 {
		t.Errorf("run fields not preserved: %+v", runs[0])
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetSetting("manual_enabled", "false")
	if err != nil {
		t.Fatal(err)
	}
	if v != "false" {
		t.Errorf("expected fallback, got %q", v)
	}

	if err := s.SetSetting("manual_enabled", "true"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting("manual_enabled", "false"); err != nil {
		t.Fatal(err)
	}
	v, _ = s.GetSetting("manual_enabled", "true")
	if v != "false" {
		t.Errorf("expected last write, got %q", v)
	}
}
