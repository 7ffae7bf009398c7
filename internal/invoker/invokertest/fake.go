// Package invokertest provides a scriptable in-memory invoker for tests and
// the stub server.
package invokertest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/storefleet/internal/invoker"
)

// Compile-time interface satisfaction check.
var _ invoker.Invoker = (*Fake)(nil)

// rule scripts the response for every command whose rendered form contains match.
type rule struct {
	match  string
	output string
	stderr string
	err    bool
}

// Fake records every command it receives. Commands succeed with empty output
// unless a rule says otherwise; the first matching rule wins.
type Fake struct {
	// Delay is slept before every command, honoring context cancellation.
	Delay time.Duration

	mu       sync.Mutex
	rules    []rule
	commands []invoker.Command
}

// New creates a Fake with no rules.
func New() *Fake {
	return &Fake{}
}

// Respond makes commands containing match return output.
func (f *Fake) Respond(match, output string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{match: match, output: output})
	return f
}

// Fail makes commands containing match fail with the given stderr.
func (f *Fake) Fail(match, stderr string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{match: match, stderr: stderr, err: true})
	return f
}

// Run implements invoker.Invoker.
func (f *Fake) Run(ctx context.Context, cmd invoker.Command) (string, error) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)

	rendered := cmd.String()
	for _, r := range f.rules {
		if !strings.Contains(rendered, r.match) {
			continue
		}
		if r.err {
			return "", &invoker.CommandError{
				Command:  cmd,
				Stderr:   r.stderr,
				ExitCode: 1,
				Err:      errors.New("exit status 1"),
			}
		}
		return r.output, nil
	}
	return "", nil
}

// Commands returns a copy of the recorded commands in invocation order.
func (f *Fake) Commands() []invoker.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]invoker.Command, len(f.commands))
	copy(out, f.commands)
	return out
}

// Rendered returns the recorded commands rendered with Command.String.
func (f *Fake) Rendered() []string {
	cmds := f.Commands()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.String()
	}
	return out
}

// Count returns how many recorded commands contain match.
func (f *Fake) Count(match string) int {
	n := 0
	for _, r := range f.Rendered() {
		if strings.Contains(r, match) {
			n++
		}
	}
	return n
}
