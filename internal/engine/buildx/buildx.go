package buildx

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/image"
	"github.com/hashicorp/go-multierror"

	"github.com/cruciblehq/cruxship/internal/command"
	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/dockerfile"
	"github.com/cruciblehq/cruxship/internal/engine"
	"github.com/cruciblehq/cruxship/internal/mount"
	"github.com/cruciblehq/cruxship/internal/paths"
)

const (

	// Engine name used in flags and logs.
	Name = "buildx"

	// Executable invoked for builds.
	defaultBinary = "docker"

	dockerfileName = "Dockerfile"
	iidfileName    = "iid"
)

// Builds images with BuildKit.
type Engine struct {
	runner  command.Runner
	daemon  Daemon
	binary  string
	scratch string
}

// Creates an engine running builds through runner and managing images
// through daemon.
func New(runner command.Runner, daemon Daemon) *Engine {
	return &Engine{
		runner:  runner,
		daemon:  daemon,
		binary:  defaultBinary,
		scratch: paths.Runtime(),
	}
}

// Implements [engine.Engine].
func (e *Engine) Name() string {
	return Name
}

// Implements [engine.Engine].
//
// The rendered Dockerfile, the iid file and the secret files live in a
// private scratch directory that is removed before Build returns.
func (e *Engine) Build(ctx context.Context, req engine.Request) (result *engine.Result, err error) {
	df, err := dockerfile.Render(req.Plan)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(e.scratch, paths.PrivateDirMode); err != nil {
		return nil, crex.Wrap(ErrBuildx, err)
	}
	dir, err := os.MkdirTemp(e.scratch, "build-")
	if err != nil {
		return nil, crex.Wrap(ErrBuildx, err)
	}
	defer func() {
		if cleanupErr := os.RemoveAll(dir); cleanupErr != nil {
			err = multierror.Append(err, crex.Wrap(ErrBuildx, cleanupErr)).ErrorOrNil()
		}
	}()

	file := filepath.Join(dir, dockerfileName)
	if err := os.WriteFile(file, df, paths.PrivateFileMode); err != nil {
		return nil, crex.Wrap(ErrBuildx, err)
	}

	secrets, err := e.secrets(dir, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cleanupErr := secrets.Cleanup(); cleanupErr != nil {
			err = multierror.Append(err, crex.Wrap(ErrBuildx, cleanupErr)).ErrorOrNil()
		}
	}()

	iidfile := filepath.Join(dir, iidfileName)
	args, err := buildArgs(req, file, iidfile, secrets)
	if err != nil {
		return nil, err
	}

	slog.Info("building image", "engine", Name, "target", req.Plan.Target, "stages", len(req.Plan.Stages))

	err = e.runner.Run(ctx, command.Cmd{
		Name:   e.binary,
		Args:   args,
		Env:    []string{"DOCKER_BUILDKIT=1"},
		Stdout: orDiscard(req.Stdout),
		Stderr: orDiscard(req.Stderr),
	})
	if err != nil {
		return nil, crex.Wrap(ErrBuildx, err)
	}

	id, err := readImageID(iidfile)
	if err != nil {
		return nil, err
	}

	info, err := e.daemon.ImageInspect(ctx, id)
	if err != nil {
		return nil, crex.Wrap(ErrBuildx, err)
	}
	slog.Info("image built", "id", shortID(id), "size", info.Size)

	return &engine.Result{ImageID: id}, nil
}

// Writes the bound secrets the plan declares to files BuildKit can read.
func (e *Engine) secrets(dir string, req engine.Request) (*mount.Materialized, error) {
	set := req.Secrets
	if set == nil {
		set, _ = mount.NewSet()
	}
	m, err := mount.Materialize(set, dir)
	if err != nil {
		return nil, crex.Wrap(ErrBuildx, err)
	}
	return m, nil
}

// Assembles the "docker build" arguments for a request.
//
// Secrets are passed by file path only. Build args are passed by name with
// their value, and are never derived from secret material.
func buildArgs(req engine.Request, file, iidfile string, secrets *mount.Materialized) ([]string, error) {
	args := []string{
		"build",
		"--file", file,
		"--target", req.Plan.Target,
		"--iidfile", iidfile,
		"--progress", "plain",
	}

	uses := req.Plan.Uses()

	for _, id := range mount.SecretIDs(uses) {
		if !secrets.Has(id) {
			continue
		}
		src, err := secrets.Source(id)
		if err != nil {
			return nil, crex.Wrap(ErrBuildx, err)
		}
		args = append(args, "--secret", "id="+id+",src="+src)
	}

	if req.SSH != nil && mount.ForwardsSSH(uses) {
		args = append(args, "--ssh", req.SSH.Flag())
	}

	buildArgs := req.BuildArgs()
	for _, name := range slices.Sorted(maps.Keys(buildArgs)) {
		args = append(args, "--build-arg", name+"="+buildArgs[name])
	}

	for _, label := range req.LabelPairs() {
		args = append(args, "--label", label)
	}

	if req.Squash {
		args = append(args, "--squash")
	}

	return append(args, req.Plan.Pipeline.Context), nil
}

// Reads the image id BuildKit wrote after a successful build.
func readImageID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", crex.Wrap(ErrNoImage, err)
	}
	id := string(bytes.TrimSpace(data))
	if id == "" {
		return "", ErrNoImage
	}
	return id, nil
}

// Implements [engine.Engine].
func (e *Engine) Export(ctx context.Context, imageID string, w io.Writer) error {
	rc, err := e.daemon.ImageSave(ctx, []string{imageID})
	if err != nil {
		return crex.Wrap(ErrBuildx, err)
	}
	defer rc.Close()

	n, err := io.Copy(w, rc)
	if err != nil {
		return crex.Wrap(ErrBuildx, err)
	}

	slog.Debug("image exported", "id", shortID(imageID), "bytes", n)
	return nil
}

// Implements [engine.Engine].
func (e *Engine) Tag(ctx context.Context, imageID, ref string) error {
	if err := e.daemon.ImageTag(ctx, imageID, ref); err != nil {
		return crex.Wrapf(ErrBuildx, "tag %s: %w", ref, err)
	}
	slog.Info("image tagged", "id", shortID(imageID), "ref", ref)
	return nil
}

// Implements [engine.Engine].
func (e *Engine) Discard(ctx context.Context, imageID string) error {
	_, err := e.daemon.ImageRemove(ctx, imageID, image.RemoveOptions{Force: true, PruneChildren: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return crex.Wrap(ErrBuildx, err)
	}
	slog.Debug("image discarded", "id", shortID(imageID))
	return nil
}

// Returns the short form of an image id.
func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
