package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cruciblehq/cruxship/internal/crex"
)

// Sequence counter for generating unique exec process identifiers.
var execSeq uint64

// Returns a unique exec process identifier.
func nextExecID() string {
	return fmt.Sprintf("exec-%d", atomic.AddUint64(&execSeq, 1))
}

// Command to run inside a stage container.
type Process struct {
	Shell   []string      // Interpreter argv the script is appended to (e.g. "/bin/sh", "-c").
	Script  string        // Script passed to the shell as a single argument.
	Env     []string      // KEY=VALUE entries overriding the container environment for this process.
	Workdir string        // Working directory. Empty keeps the container's.
	Mounts  []specs.Mount // Bind mounts visible to this process only.
	Output  io.Writer     // Receives stdout and stderr as they are produced. Nil discards.
}

func (p Process) args() []string {
	return append(append([]string{}, p.Shell...), p.Script)
}

// Outcome of a process execution inside a container.
type ExecResult struct {
	ExitCode int    // Exit code of the process.
	Stderr   string // Captured standard error.
}

// Runs a process inside the container.
//
// Processes without mounts attach to the container's running task. With
// mounts they run in a sibling container sharing the stage snapshot. A
// non-zero exit code is not treated as an error; the caller decides.
func (c *Container) Exec(ctx context.Context, p Process) (*ExecResult, error) {
	var stderr bytes.Buffer
	stdout, errOut := io.Discard, io.Writer(&stderr)
	if p.Output != nil {
		stdout = p.Output
		errOut = io.MultiWriter(&stderr, p.Output)
	}

	var exitCode int
	var err error
	if len(p.Mounts) > 0 {
		exitCode, err = c.execMounted(ctx, p, stdout, errOut)
	} else {
		exitCode, err = c.execAttached(ctx, p, stdout, errOut)
	}
	if err != nil {
		return nil, err
	}

	return &ExecResult{ExitCode: exitCode, Stderr: stderr.String()}, nil
}

// Runs a process as an additional exec of the running task.
func (c *Container) execAttached(ctx context.Context, p Process, stdout, stderr io.Writer) (int, error) {
	if err := c.ensureRunning(ctx); err != nil {
		return 0, err
	}

	pspec, err := c.buildProcessSpec(ctx, p.Env, p.Workdir, p.args()...)
	if err != nil {
		return 0, crex.Wrap(ErrRuntime, err)
	}

	return c.execProcess(ctx, pspec, nil, stdout, stderr)
}

// Builds an OCI process spec for running a command inside the container.
//
// The base values are copied from the container's own OCI spec, then env
// and workdir are overridden if provided.
func (c *Container) buildProcessSpec(ctx context.Context, env []string, workdir string, args ...string) (*specs.Process, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, err
	}

	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, err
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = args

	if len(env) > 0 {
		pspec.Env = mergeEnv(pspec.Env, env)
	}
	if workdir != "" {
		pspec.Cwd = workdir
	}

	return &pspec, nil
}

// Merges override env vars on top of a base env slice.
//
// Base entries keep their position and new keys follow in override order.
// Entries without "=" are dropped.
func mergeEnv(base, overrides []string) []string {
	index := make(map[string]int, len(base)+len(overrides))
	merged := make([]string, 0, len(base)+len(overrides))

	for _, entry := range append(append([]string{}, base...), overrides...) {
		k, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if i, seen := index[k]; seen {
			merged[i] = entry
			continue
		}
		index[k] = len(merged)
		merged = append(merged, entry)
	}
	return merged
}

// Runs a command inside the container, returning the exit code and captured
// stderr. A non-zero exit code is not treated as an error.
func (c *Container) execCommand(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) (int, string, error) {
	if err := c.ensureRunning(ctx); err != nil {
		return 0, "", err
	}

	pspec, err := c.buildProcessSpec(ctx, nil, "", args...)
	if err != nil {
		return 0, "", crex.Wrap(ErrRuntime, err)
	}

	var stderr bytes.Buffer
	exitCode, err := c.execProcess(ctx, pspec, stdin, stdout, &stderr)
	if err != nil {
		return 0, "", err
	}
	return exitCode, stderr.String(), nil
}

// Starts a process inside the container's running task, waits for it to
// exit, and returns the exit code.
//
// When stdin is provided, the container's stdin is explicitly closed after
// the reader returns EOF so the exec process receives the EOF signal. The
// containerd shim holds both ends of the stdin FIFO open and will not
// propagate EOF on its own.
func (c *Container) execProcess(ctx context.Context, pspec *specs.Process, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	task, err := c.loadTask(ctx)
	if err != nil {
		return 0, err
	}

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	var stdinDone <-chan struct{}
	if stdin != nil {
		dr := newDoneReader(stdin)
		stdin = dr
		stdinDone = dr.done
	}

	process, err := task.Exec(ctx, nextExecID(), pspec, cio.NewCreator(
		cio.WithStreams(stdin, stdout, stderr),
	))
	if err != nil {
		return 0, crex.Wrap(ErrRuntime, err)
	}

	return awaitProcess(ctx, process, stdinDone)
}

// Loads the container's running task.
func (c *Container) loadTask(ctx context.Context) (containerd.Task, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, crex.Wrap(ErrRuntime, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil, crex.Wrap(ErrRuntime, err)
	}

	return task, nil
}

// Starts a process, waits for it to exit and returns the exit code.
//
// If stdinDone is non-nil, the process stdin is closed when the channel
// fires. A cancelled context kills the process. The process is always
// deleted before returning.
func awaitProcess(ctx context.Context, process containerd.Process, stdinDone <-chan struct{}) (int, error) {
	cleanup := context.WithoutCancel(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		process.Delete(cleanup)
		return 0, crex.Wrap(ErrRuntime, err)
	}

	if err := process.Start(ctx); err != nil {
		process.Delete(cleanup)
		return 0, crex.Wrap(ErrRuntime, err)
	}

	if stdinDone != nil {
		go func() {
			<-stdinDone
			process.CloseIO(ctx, containerd.WithStdinCloser)
		}()
	}

	exitStatus := <-statusC
	if ctx.Err() != nil {
		process.Kill(cleanup, syscall.SIGKILL)
	}
	process.Delete(cleanup, containerd.WithProcessKill)

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	code, _, err := exitStatus.Result()
	if err != nil {
		return 0, crex.Wrap(ErrRuntime, err)
	}

	return int(code), nil
}

// Wraps an [io.Reader] and closes done on the first [io.EOF].
type doneReader struct {
	r    io.Reader
	once sync.Once
	done chan struct{}
}

func newDoneReader(r io.Reader) *doneReader {
	return &doneReader{r: r, done: make(chan struct{})}
}

func (d *doneReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err == io.EOF {
		d.once.Do(func() { close(d.done) })
	}
	return n, err
}
