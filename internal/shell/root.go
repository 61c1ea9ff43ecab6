package shell

import (
	"context"
	"os/exec"
	"time"
)

// RootShell executes commands through su, falling back to non-interactive
// sudo when su is not installed. Availability means the backend can actually
// obtain uid 0 right now, not merely that the binary exists.
type RootShell struct{}

// NewRootShell creates a root execution backend.
func NewRootShell() *RootShell {
	return &RootShell{}
}

// Name implements Shell.
func (s *RootShell) Name() string { return "root" }

// Available implements Shell. It runs `id -u` through the elevation binary
// and requires the output to be exactly "0".
func (s *RootShell) Available(ctx context.Context) bool {
	name, args, err := s.elevation()
	if err != nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	res := runCommand(probeCtx, DefaultProbeTimeout, name, append(args, "id -u")...)
	return res.Success() && res.TrimmedStdout() == "0"
}

// Exec implements Shell.
func (s *RootShell) Exec(ctx context.Context, command string, timeout time.Duration) *Result {
	name, args, err := s.elevation()
	if err != nil {
		return errorResult("no elevation binary found: " + err.Error())
	}
	return runCommand(ctx, timeout, name, append(args, command)...)
}

// elevation resolves the elevation binary and its fixed arguments.
// Absolute paths are used so the invocation matches sudoers rules.
func (s *RootShell) elevation() (string, []string, error) {
	if path, err := exec.LookPath("su"); err == nil {
		return path, []string{"-c"}, nil
	}
	path, err := exec.LookPath("sudo")
	if err != nil {
		return "", nil, err
	}
	return path, []string{"-n", "/bin/sh", "-c"}, nil
}
