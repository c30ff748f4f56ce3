package build

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/cruciblehq/cruxship/internal/cache"
	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/graph"
	"github.com/cruciblehq/cruxship/internal/mount"
	"github.com/cruciblehq/cruxship/internal/paths"
	"github.com/cruciblehq/cruxship/internal/runtime"
)

// Controls plan execution.
type Options struct {
	Plan     *graph.Plan         // Stages to build, dependencies first.
	Secrets  *mount.Materialized // Secrets bound for this invocation. Nil binds none.
	SSH      *mount.SSHForward   // Agent forwarded to ssh mounts. Nil forwards none.
	Cache    cache.Store         // Backing store for cache mounts. Nil drops them.
	Labels   map[string]string   // Labels recorded on the output image.
	Output   string              // Directory for the exported image.
	Prefix   string              // Prefix of container IDs.
	Platform string              // Target platform. Defaults to the host's.
	Log      io.Writer           // Receives step output. Nil discards it.
}

// Returned after successful plan execution.
type Result struct {
	Archive string // OCI archive of the target stage.
}

// Executes a plan against the container runtime.
//
// Stages are built in plan order. Stages another stage derives from are
// committed as images, and the target stage is exported to the output
// directory. Every stage container is destroyed when the build completes.
func Run(ctx context.Context, rt *runtime.Runtime, opts Options) (*Result, error) {
	if opts.Platform == "" {
		opts.Platform = runtime.DefaultPlatform()
	}
	if opts.Prefix == "" {
		opts.Prefix = "cruxship"
	}

	slog.Info("executing plan",
		"target", opts.Plan.Target,
		"stages", len(opts.Plan.Stages),
		"platform", opts.Platform,
		"output", opts.Output,
	)

	if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
		return nil, crex.Wrap(ErrFileSystemOperation, err)
	}

	return newExecutor(containerdRuntime{rt}, opts).build(ctx)
}
