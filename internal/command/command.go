// Package command runs external tools (hg, svn, debuild, dput, quilt, patch)
// behind a small interface so callers can be tested without them installed.
package command

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"
)

// Runner executes a command in dir and returns its combined output.
// A non-zero exit is reported as *ExitError.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) ([]byte, error)
}

// Cmd describes one external invocation.
type Cmd struct {
	Dir  string
	Env  []string // appended to the current environment
	Name string
	Args []string
}

// String renders the command line shell-quoted, for logs and errors.
func (c Cmd) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Cmd    string
	Code   int
	Output []byte
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(string(e.Output))
	if len(out) > 2000 {
		out = "..." + out[len(out)-2000:]
	}
	if out == "" {
		return fmt.Sprintf("%s: exit status %d", e.Cmd, e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Cmd, e.Code, out)
}

// IsExit reports whether err is (or wraps) a non-zero exit of a command.
func IsExit(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr)
}

// IsNotFound reports whether err means the executable is not installed.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}

// Exec runs commands with os/exec.
type Exec struct{}

func (Exec) Run(ctx context.Context, c Cmd) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	slog.Debug("Running command", "cmd", c.String(), "dir", c.Dir)
	err := cmd.Run()
	if err == nil {
		return out.Bytes(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out.Bytes(), errors.Wrapf(ctxErr, "running %s", c.String())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.Bytes(), &ExitError{Cmd: c.String(), Code: exitErr.ExitCode(), Output: out.Bytes()}
	}
	return out.Bytes(), errors.Wrapf(err, "running %s", c.String())
}
