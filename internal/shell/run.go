package shell

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-cmd/cmd"
)

// runCommand executes name with args under a timeout using go-cmd with
// streaming output, so a hung command can be stopped without losing the
// output produced so far. Per-stream capture is capped at maxOutputBytes
// with a truncation marker appended.
func runCommand(ctx context.Context, timeout time.Duration, name string, args ...string) *Result {
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := cmd.NewCmdOptions(cmd.Options{
		Buffered:  false,
		Streaming: true,
	}, name, args...)

	statusChan := c.Start()

	var stdoutBuf, stderrBuf strings.Builder
	var stdoutBytes, stderrBytes int
	timedOut := false

	appendLine := func(buf *strings.Builder, n *int, line string) {
		*n += len(line) + 1
		if *n <= maxOutputBytes {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case line, ok := <-c.Stdout:
				if !ok {
					for line := range c.Stderr {
						appendLine(&stderrBuf, &stderrBytes, line)
					}
					return
				}
				appendLine(&stdoutBuf, &stdoutBytes, line)
			case line, ok := <-c.Stderr:
				if !ok {
					for line := range c.Stdout {
						appendLine(&stdoutBuf, &stdoutBytes, line)
					}
					return
				}
				appendLine(&stderrBuf, &stderrBytes, line)
			case <-ctx.Done():
				timedOut = ctx.Err() == context.DeadlineExceeded
				c.Stop()
				return
			}
		}
	}()

	status := <-statusChan
	<-done

	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()
	if stdoutBytes > maxOutputBytes {
		stdout += "\n[output truncated]"
	}
	if stderrBytes > maxOutputBytes {
		stderr += "\n[output truncated]"
	}

	switch {
	case timedOut:
		return &Result{
			Stdout:   stdout,
			Stderr:   appendMsg(stderr, fmt.Sprintf("command timed out after %s", timeout)),
			ExitCode: 124,
		}
	case status.Error != nil && status.Exit < 0:
		return &Result{
			Stdout:   stdout,
			Stderr:   appendMsg(stderr, status.Error.Error()),
			ExitCode: 127,
		}
	default:
		return &Result{
			Stdout:   stdout,
			Stderr:   stderr,
			ExitCode: status.Exit,
		}
	}
}

func appendMsg(existing, msg string) string {
	if existing == "" {
		return msg
	}
	return existing + "\n" + msg
}
