package shell

import (
	"context"
	"os/exec"
	"time"
)

// UserShell executes commands as the agent's own user via /bin/sh.
// It is the lowest-preference backend and exists so diagnostics keep
// working when no privileged backend is reachable.
type UserShell struct{}

// NewUserShell creates an unprivileged execution backend.
func NewUserShell() *UserShell {
	return &UserShell{}
}

// Name implements Shell.
func (s *UserShell) Name() string { return "user" }

// Available implements Shell.
func (s *UserShell) Available(_ context.Context) bool {
	_, err := exec.LookPath("/bin/sh")
	return err == nil
}

// Exec implements Shell.
func (s *UserShell) Exec(ctx context.Context, command string, timeout time.Duration) *Result {
	return runCommand(ctx, timeout, "/bin/sh", "-c", command)
}
