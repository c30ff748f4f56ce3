// Package command runs external processes.
//
// Processes run in their own process group so cancelling the context kills
// every child they spawned, not only the direct child. A non-zero exit is
// reported as an [*ExitError] carrying the status, which the entry point
// uses as its own exit status.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jesseduffield/kill"
)

// Grace period between killing a cancelled process group and abandoning its
// output pipes.
const waitDelay = 5 * time.Second

// External process invocation.
type Cmd struct {
	Name   string    // Executable, looked up in PATH.
	Args   []string  // Arguments.
	Dir    string    // Working directory. Empty means the current one.
	Env    []string  // Added to the inherited environment.
	Stdin  io.Reader // Defaults to no input.
	Stdout io.Writer // Defaults to os.Stdout.
	Stderr io.Writer // Defaults to os.Stderr.
}

// Returns the command line for display.
func (c Cmd) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runs external processes.
type Runner interface {
	Run(ctx context.Context, c Cmd) error
}

// Adapts a function to [Runner].
type RunnerFunc func(ctx context.Context, c Cmd) error

// Implements [Runner].
func (f RunnerFunc) Run(ctx context.Context, c Cmd) error {
	return f(ctx, c)
}

// Runs commands as host processes.
type Exec struct{}

// Implements [Runner].
func (Exec) Run(ctx context.Context, c Cmd) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = orDefault(c.Stdout, os.Stdout)
	cmd.Stderr = orDefault(c.Stderr, os.Stderr)

	kill.PrepareForChildren(cmd)
	cmd.Cancel = func() error { return kill.Kill(cmd) }
	cmd.WaitDelay = waitDelay

	slog.Debug("running", "command", c.String(), "dir", c.Dir)
	started := time.Now()

	err := cmd.Run()
	slog.Debug("finished", "command", c.Name, "duration", time.Since(started).Round(time.Millisecond))

	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Name: c.Name, Code: exitErr.ExitCode()}
	}
	return err
}

func orDefault(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}

// Non-zero exit of an external process.
type ExitError struct {
	Name string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Name, e.Code)
}

// Returns the process exit status that reports err: 0 for nil, the status
// of the first failed process when err wraps an [*ExitError], 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}
