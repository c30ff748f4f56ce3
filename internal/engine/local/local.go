package local

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/cruxship/internal/build"
	"github.com/cruciblehq/cruxship/internal/cache"
	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/engine"
	"github.com/cruciblehq/cruxship/internal/mount"
	"github.com/cruciblehq/cruxship/internal/paths"
	"github.com/cruciblehq/cruxship/internal/runtime"
)

// Engine name used in flags and logs.
const Name = "local"

// Records archives in the image store under a name.
type Importer interface {
	ImportImage(ctx context.Context, path, name string) error
}

// Builds images with the containerd runtime.
type Engine struct {
	run      func(ctx context.Context, opts build.Options) (*build.Result, error)
	images   Importer
	cache    cache.Store
	platform string
	scratch  string

	mu     sync.Mutex
	builds map[string]string // Archive path by image id.
}

// Creates an engine building on rt. Cache mounts are backed by store; a nil
// store drops them. An empty platform selects the host's.
func New(rt *runtime.Runtime, store cache.Store, platform string) *Engine {
	return &Engine{
		run: func(ctx context.Context, opts build.Options) (*build.Result, error) {
			return build.Run(ctx, rt, opts)
		},
		images:   rt,
		cache:    store,
		platform: platform,
		scratch:  paths.Runtime(),
		builds:   make(map[string]string),
	}
}

// Implements [engine.Engine].
func (e *Engine) Name() string {
	return Name
}

// Implements [engine.Engine].
func (e *Engine) Build(ctx context.Context, req engine.Request) (*engine.Result, error) {
	if err := os.MkdirAll(e.scratch, paths.PrivateDirMode); err != nil {
		return nil, crex.Wrap(engine.ErrEngine, err)
	}
	dir, err := os.MkdirTemp(e.scratch, "build-")
	if err != nil {
		return nil, crex.Wrap(engine.ErrEngine, err)
	}

	archive, err := e.build(ctx, dir, req)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	id, err := archiveDigest(archive)
	if err != nil {
		os.RemoveAll(dir)
		return nil, crex.Wrap(engine.ErrEngine, err)
	}

	e.mu.Lock()
	e.builds[id.String()] = archive
	e.mu.Unlock()

	slog.Info("image built", "engine", Name, "id", id.Encoded()[:12], "archive", archive)
	return &engine.Result{ImageID: id.String(), Archive: archive}, nil
}

// Runs the plan with secrets materialized under dir, returning the archive
// path. Secret files are removed before it returns.
func (e *Engine) build(ctx context.Context, dir string, req engine.Request) (string, error) {
	set := req.Secrets
	if set == nil {
		set, _ = mount.NewSet()
	}
	secrets, err := mount.Materialize(set, dir)
	if err != nil {
		return "", crex.Wrap(engine.ErrEngine, err)
	}
	defer func() {
		if err := secrets.Cleanup(); err != nil {
			slog.Warn("secret files not removed", "dir", dir, "error", err)
		}
	}()

	if !req.Squash {
		slog.Debug("local engine always exports the target as a single layer")
	}

	result, err := e.run(ctx, build.Options{
		Plan:     req.Plan,
		Secrets:  secrets,
		SSH:      req.SSH,
		Cache:    e.cache,
		Labels:   req.Labels,
		Output:   dir,
		Prefix:   "cruxship-" + filepath.Base(dir),
		Platform: e.platform,
		Log:      req.Stdout,
	})
	if err != nil {
		return "", err
	}
	return result.Archive, nil
}

// Implements [engine.Engine].
func (e *Engine) Export(ctx context.Context, imageID string, w io.Writer) error {
	archive, err := e.archive(imageID)
	if err != nil {
		return err
	}

	f, err := os.Open(archive)
	if err != nil {
		return crex.Wrap(engine.ErrEngine, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return crex.Wrap(engine.ErrEngine, err)
	}
	return nil
}

// Implements [engine.Engine].
func (e *Engine) Tag(ctx context.Context, imageID, ref string) error {
	archive, err := e.archive(imageID)
	if err != nil {
		return err
	}
	if err := e.images.ImportImage(ctx, archive, ref); err != nil {
		return crex.Wrapf(engine.ErrEngine, "tag %s: %w", ref, err)
	}
	slog.Info("image tagged", "ref", ref)
	return nil
}

// Implements [engine.Engine].
func (e *Engine) Discard(ctx context.Context, imageID string) error {
	e.mu.Lock()
	archive, ok := e.builds[imageID]
	delete(e.builds, imageID)
	e.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.RemoveAll(filepath.Dir(archive)); err != nil {
		return crex.Wrap(engine.ErrEngine, err)
	}
	slog.Debug("image discarded", "id", imageID)
	return nil
}

// Returns the archive of a built image.
func (e *Engine) archive(imageID string) (string, error) {
	e.mu.Lock()
	archive, ok := e.builds[imageID]
	e.mu.Unlock()

	if !ok {
		return "", crex.Wrapf(engine.ErrUnknownImage, "%s", imageID)
	}
	return archive, nil
}

// Digests an archive file.
func archiveDigest(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.FromReader(f)
}
