package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command describes one external process invocation.
type Command struct {
	Name  string
	Args  []string
	Stdin []byte
}

// String renders the command for logs and error messages. Stdin is not included.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Invoker runs a command and returns its stdout.
type Invoker interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// CommandError is returned when a command exits non-zero or cannot be started.
type CommandError struct {
	Command  Command
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return fmt.Sprintf("%s: %s", e.Command.Name, msg)
	}
	return fmt.Sprintf("%s: %v", e.Command.Name, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Compile-time interface satisfaction check.
var _ Invoker = (*Exec)(nil)

// Exec runs commands as local processes without a shell.
type Exec struct {
	// Timeout bounds each command when positive. Zero means the command may
	// run for as long as the caller's context allows.
	Timeout time.Duration
}

// NewExec creates an Exec invoker with the given per-command timeout.
func NewExec(timeout time.Duration) *Exec {
	return &Exec{Timeout: timeout}
}

// Run executes cmd and returns its stdout.
func (e *Exec) Run(ctx context.Context, cmd Command) (string, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	// #nosec G204 -- binaries and arguments come from configuration and generated names
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if len(cmd.Stdin) > 0 {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		cmdErr := &CommandError{Command: cmd, Stderr: stderr.String(), ExitCode: -1, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		if e.Timeout > 0 && ctx.Err() == context.DeadlineExceeded {
			cmdErr.Err = fmt.Errorf("timed out after %s: %w", e.Timeout, err)
		}
		return "", cmdErr
	}

	return stdout.String(), nil
}
