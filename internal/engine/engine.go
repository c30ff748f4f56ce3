package engine

import (
	"context"
	"io"
	"maps"
	"slices"

	"github.com/cruciblehq/cruxship/internal/graph"
	"github.com/cruciblehq/cruxship/internal/mount"
)

// Label recording the source revision an image was built from.
const RevisionLabel = "org.opencontainers.image.revision"

// Builds images from plans.
type Engine interface {

	// Short name used in flags and logs.
	Name() string

	// Builds the plan's target as an untagged image.
	Build(ctx context.Context, req Request) (*Result, error)

	// Writes the image as a tar archive to w.
	Export(ctx context.Context, imageID string, w io.Writer) error

	// Makes the image reachable under ref.
	Tag(ctx context.Context, imageID, ref string) error

	// Removes an untagged image. Unknown images are ignored.
	Discard(ctx context.Context, imageID string) error
}

// Single build handed to an engine.
type Request struct {
	Plan    *graph.Plan       // Stages to build, dependencies first.
	Secrets *mount.Set        // Secret values bound for this build.
	SSH     *mount.SSHForward // Agent forwarded to ssh mounts. Nil forwards none.
	Labels  map[string]string // Labels recorded on the image.
	Squash  bool              // Collapse the target's layers.
	Stdout  io.Writer         // Build output. Nil discards it.
	Stderr  io.Writer         // Build diagnostics. Nil discards it.
}

// Returns the request's labels as sorted "key=value" pairs.
func (r Request) LabelPairs() []string {
	pairs := make([]string, 0, len(r.Labels))
	for _, k := range slices.Sorted(maps.Keys(r.Labels)) {
		pairs = append(pairs, k+"="+r.Labels[k])
	}
	return pairs
}

// Returns the build args visible to at least one planned stage, by name.
//
// Args declared but not supplied are left out so the engine falls back to
// the stage's own default.
func (r Request) BuildArgs() map[string]string {
	args := make(map[string]string)
	for _, s := range r.Plan.Stages {
		for _, a := range r.Plan.Pipeline.StageArgs(s) {
			if a.Set {
				args[a.Name] = a.Value
			}
		}
	}
	return args
}

// Produced by a successful build.
type Result struct {
	ImageID string // Engine-specific identity of the untagged image.
	Archive string // Host path of the exported archive, when the engine keeps one.
}
