// Package store provides persistent agent state: day-scoped idempotency
// flags and counters, task run history, and settings. Backed by SQLite so
// state survives restarts within the same day.
package store

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// dayLayout renders a local-time calendar day. All flags and counters are
// scoped to this key, which is what makes "done today" roll over at local
// midnight without any reset job.
const dayLayout = "2006-01-02"

// Store manages persistent agent state.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// now is replaceable in tests to simulate day rollover.
	now func() time.Time
}

// TaskRun is one recorded task execution.
type TaskRun struct {
	ID         string
	Task       string
	Status     string
	Error      string
	DurationMs int64
	StartedAt  time.Time
}

// New creates a store backed by an SQLite database in dataDir.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "agent.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return store, nil
}

// migrate creates or updates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS daily_flags (
		day TEXT NOT NULL,
		key TEXT NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		marked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (day, key, target)
	);

	CREATE TABLE IF NOT EXISTS daily_counters (
		day TEXT NOT NULL,
		key TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (day, key)
	);

	CREATE TABLE IF NOT EXISTS task_runs (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_daily_flags_day ON daily_flags(day);
	CREATE INDEX IF NOT EXISTS idx_daily_counters_day ON daily_counters(day);
	CREATE INDEX IF NOT EXISTS idx_task_runs_started ON task_runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) today() string {
	return s.now().Format(dayLayout)
}

// =============================================================================
// Daily flags
// =============================================================================

// IsDone reports whether key has been marked done today.
func (s *Store) IsDone(key string) (bool, error) {
	return s.IsTargetDone(key, "")
}

// MarkDone marks key as done for today. Marking an already-marked key is a
// no-op; the flag never reverts within a day.
func (s *Store) MarkDone(key string) error {
	return s.MarkTarget(key, "")
}

// IsTargetDone reports whether key has been marked done today for a
// specific target, such as one friend account among many.
func (s *Store) IsTargetDone(key, target string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM daily_flags WHERE day = ? AND key = ? AND target = ?",
		s.today(), key, target,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkTarget marks key done for today against a specific target.
func (s *Store) MarkTarget(key, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO daily_flags (day, key, target)
		VALUES (?, ?, ?)
		ON CONFLICT(day, key, target) DO NOTHING
	`, s.today(), key, target)
	return err
}

// =============================================================================
// Daily counters
// =============================================================================

// GetCount returns today's counter value for key, zero when unset.
func (s *Store) GetCount(key string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(
		"SELECT count FROM daily_counters WHERE day = ? AND key = ?",
		s.today(), key,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// AddCount increments today's counter for key by n and returns the new value.
func (s *Store) AddCount(key string, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow(`
		INSERT INTO daily_counters (day, key, count)
		VALUES (?, ?, ?)
		ON CONFLICT(day, key) DO UPDATE SET count = count + excluded.count
		RETURNING count
	`, s.today(), key, n).Scan(&count)
	return count, err
}

// PruneOlderThan removes flags and counters for days older than the given
// number of days before today. The current day is never pruned.
func (s *Store) PruneOlderThan(days int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().AddDate(0, 0, -days).Format(dayLayout)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM daily_flags WHERE day < ?", cutoff); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM daily_counters WHERE day < ?", cutoff); err != nil {
		return err
	}

	return tx.Commit()
}

// =============================================================================
// Task run history
// =============================================================================

// RecordRun stores one task execution and returns its run ID.
func (s *Store) RecordRun(task, status, errMsg string, duration time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()

	_, err := s.db.Exec(`
		INSERT INTO task_runs (id, task, status, error, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, task, status, errMsg, duration.Milliseconds(), now)
	if err != nil {
		return "", err
	}
	return id, nil
}

// RecentRuns returns the most recent task runs, newest first.
func (s *Store) RecentRuns(limit int) ([]*TaskRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, task, status, error, duration_ms, started_at
		FROM task_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*TaskRun
	for rows.Next() {
		var r TaskRun
		if err := rows.Scan(&r.ID, &r.Task, &r.Status, &r.Error, &r.DurationMs, &r.StartedAt); err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// PruneRunsOlderThan removes run history older than the retention period.
func (s *Store) PruneRunsOlderThan(retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-retention)
	_, err := s.db.Exec("DELETE FROM task_runs WHERE started_at < ?", cutoff)
	return err
}

// =============================================================================
// Settings
// =============================================================================

// GetSetting returns the stored value for key, or fallback when unset.
func (s *Store) GetSetting(key, fallback string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fallback, nil
		}
		return "", err
	}
	return value, nil
}

// SetSetting stores a value for key, replacing any previous value.
func (s *Store) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
