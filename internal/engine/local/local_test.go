package local

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruciblehq/cruxship/internal/build"
	"github.com/cruciblehq/cruxship/internal/cache"
	"github.com/cruciblehq/cruxship/internal/engine"
	"github.com/cruciblehq/cruxship/internal/graph"
	"github.com/cruciblehq/cruxship/internal/manifest"
	"github.com/cruciblehq/cruxship/internal/mount"
)

type fakeImporter struct {
	imported map[string]string
}

func (f *fakeImporter) ImportImage(_ context.Context, path, name string) error {
	if f.imported == nil {
		f.imported = make(map[string]string)
	}
	f.imported[name] = path
	return nil
}

// Fake build that records its options and writes a fixed archive.
type fakeBuild struct {
	opts    build.Options
	secret  []byte
	err     error
	archive []byte
}

func (f *fakeBuild) run(_ context.Context, opts build.Options) (*build.Result, error) {
	f.opts = opts
	if opts.Secrets.Has("registry-token") {
		p, err := opts.Secrets.File("registry-token", 0400)
		if err != nil {
			return nil, err
		}
		if f.secret, err = os.ReadFile(p); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	archive := filepath.Join(opts.Output, "image.tar")
	return &build.Result{Archive: archive}, os.WriteFile(archive, f.archive, 0644)
}

func newEngine(t *testing.T, fb *fakeBuild, images Importer) *Engine {
	t.Helper()
	return &Engine{
		run:      fb.run,
		images:   images,
		cache:    cache.NewMemory(t.TempDir()),
		platform: "linux/amd64",
		scratch:  t.TempDir(),
		builds:   make(map[string]string),
	}
}

func request(t *testing.T) engine.Request {
	t.Helper()

	p := &manifest.Pipeline{
		Target: "runtime",
		Stages: []*manifest.Stage{{Name: "runtime", From: "alpine:3.20"}},
	}
	plan, err := graph.Resolve(p, "")
	require.NoError(t, err)

	set, err := mount.NewSet(mount.Binding{ID: "registry-token", Data: []byte("fo1_token")})
	require.NoError(t, err)

	return engine.Request{
		Plan:    plan,
		Secrets: set,
		Labels:  map[string]string{engine.RevisionLabel: "abc123"},
	}
}

func TestBuild(t *testing.T) {
	fb := &fakeBuild{archive: []byte("oci archive")}
	e := newEngine(t, fb, &fakeImporter{})

	result, err := e.Build(context.Background(), request(t))
	require.NoError(t, err)

	assert.Equal(t, digest.FromBytes([]byte("oci archive")).String(), result.ImageID)
	assert.FileExists(t, result.Archive)
	assert.Equal(t, []byte("fo1_token"), fb.secret)
	assert.Equal(t, "linux/amd64", fb.opts.Platform)
	assert.Equal(t, "abc123", fb.opts.Labels[engine.RevisionLabel])
	assert.NotNil(t, fb.opts.Cache)

	// Secret files are gone once the build returns; only the archive stays.
	var files []string
	filepath.WalkDir(e.scratch, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	assert.Equal(t, []string{result.Archive}, files)
}

func TestBuildFailureRemovesScratch(t *testing.T) {
	fb := &fakeBuild{err: errors.New("stage \"builder\": compile failed")}
	e := newEngine(t, fb, &fakeImporter{})

	_, err := e.Build(context.Background(), request(t))
	require.Error(t, err)

	entries, err := os.ReadDir(e.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportTagDiscard(t *testing.T) {
	images := &fakeImporter{}
	e := newEngine(t, &fakeBuild{archive: []byte("oci archive")}, images)

	result, err := e.Build(context.Background(), request(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, e.Export(context.Background(), result.ImageID, &buf))
	assert.Equal(t, "oci archive", buf.String())

	require.NoError(t, e.Tag(context.Background(), result.ImageID, "registry.fly.io/catscii:latest"))
	assert.Equal(t, result.Archive, images.imported["registry.fly.io/catscii:latest"])

	require.NoError(t, e.Discard(context.Background(), result.ImageID))
	assert.NoFileExists(t, result.Archive)

	require.NoError(t, e.Discard(context.Background(), result.ImageID))
	require.ErrorIs(t, e.Tag(context.Background(), result.ImageID, "catscii"), engine.ErrUnknownImage)
}
