// Package shell provides privileged command execution backends and the
// selector that picks between them. Backend availability is volatile on the
// devices this agent runs on, so every execution re-probes from scratch
// instead of caching a working backend.
package shell

import (
	"context"
	"errors"
	"strings"
	"time"
)

// maxOutputBytes is the maximum number of bytes captured per command output stream.
const maxOutputBytes = 1 << 20 // 1 MiB

const (
	// DefaultProbeTimeout bounds a single availability probe.
	DefaultProbeTimeout = 2 * time.Second

	// DefaultExecTimeout is applied when a caller passes a non-positive timeout.
	DefaultExecTimeout = 5 * time.Second
)

// ErrNoBackend is returned by the selector when every backend probe failed.
var ErrNoBackend = errors.New("no shell backend available")

// Result holds the outcome of a single command execution.
// A Result is always returned, even for failures; backends never panic.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the command exited with code zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// TrimmedStdout returns stdout with surrounding whitespace removed.
func (r *Result) TrimmedStdout() string {
	return strings.TrimSpace(r.Stdout)
}

// errorResult builds a failure Result for errors that occur before the
// command could produce an exit code of its own.
func errorResult(msg string) *Result {
	return &Result{ExitCode: 127, Stderr: msg}
}

// Shell is a privileged command execution backend.
//
// Implementations must be safe for use from a single goroutine at a time;
// serialization across callers is the responsibility of the owning service.
type Shell interface {
	// Name identifies the backend in logs and status reports.
	Name() string

	// Available probes whether the backend can currently execute commands.
	// It must return quickly and must not panic.
	Available(ctx context.Context) bool

	// Exec runs a command under the backend with the given timeout and
	// returns a Result. It must not panic; a timed-out command yields a
	// Result with a nonzero exit code and a timeout message in Stderr.
	Exec(ctx context.Context, command string, timeout time.Duration) *Result
}
