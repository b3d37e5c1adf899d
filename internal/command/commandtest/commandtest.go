// Package commandtest provides a scripted command.Runner for tests.
package commandtest

import (
	"context"
	"strings"
	"sync"

	"github.com/tikinang/ppa-submit/internal/command"
)

// Handler answers one invocation. Returning a nil error means exit 0.
type Handler func(ctx context.Context, c command.Cmd) ([]byte, error)

// Runner records every command and dispatches it to the handler registered
// for the command name. Unregistered commands succeed with no output.
type Runner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []command.Cmd
}

func New() *Runner {
	return &Runner{handlers: map[string]Handler{}}
}

// Handle registers h for the executable name.
func (r *Runner) Handle(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Fail makes every invocation of name exit with code.
func (r *Runner) Fail(name string, code int, output string) {
	r.Handle(name, func(_ context.Context, c command.Cmd) ([]byte, error) {
		return []byte(output), &command.ExitError{Cmd: c.String(), Code: code, Output: []byte(output)}
	})
}

func (r *Runner) Run(ctx context.Context, c command.Cmd) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	h := r.handlers[c.Name]
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, nil
	}
	return h(ctx, c)
}

// Calls returns the recorded invocations in order.
func (r *Runner) Calls() []command.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]command.Cmd(nil), r.calls...)
}

// Lines renders the recorded invocations as shell-quoted strings.
func (r *Runner) Lines() []string {
	var out []string
	for _, c := range r.Calls() {
		out = append(out, c.String())
	}
	return out
}

// Count returns how many times name was invoked.
func (r *Runner) Count(name string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Name == name {
			n++
		}
	}
	return n
}

// HasArg reports whether any invocation of name carried an argument
// containing substr.
func (r *Runner) HasArg(name, substr string) bool {
	for _, c := range r.Calls() {
		if c.Name != name {
			continue
		}
		for _, a := range c.Args {
			if strings.Contains(a, substr) {
				return true
			}
		}
	}
	return false
}
