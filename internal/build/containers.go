package build

import (
	"context"
	"io"

	"github.com/cruciblehq/cruxship/internal/runtime"
)

// Stage container operations the executor relies on.
//
// Implemented by [runtime.Container].
type Container interface {
	ID() string
	Exec(ctx context.Context, p runtime.Process) (*runtime.ExecResult, error)
	MkdirAll(ctx context.Context, dir string) error
	CopyTo(ctx context.Context, r io.Reader, destDir string) error
	CopyFrom(ctx context.Context, w io.Writer, p string) error
	FileExists(ctx context.Context, p string) (bool, error)
	DirExists(ctx context.Context, p string) (bool, error)
	Stop(ctx context.Context) error
	Commit(ctx context.Context, ic runtime.ImageConfig) (string, error)
	Export(ctx context.Context, output string, ic runtime.ImageConfig) (string, error)
	Destroy(ctx context.Context)
}

// Starts stage containers and manages the images committed for them.
type Runtime interface {
	Pull(ctx context.Context, ref, platform string) (string, error)
	Start(ctx context.Context, image, id, platform string) (Container, error)
	DestroyImage(ctx context.Context, name string) error
}

// Adapts a containerd runtime to [Runtime].
type containerdRuntime struct {
	*runtime.Runtime
}

func (rt containerdRuntime) Start(ctx context.Context, image, id, platform string) (Container, error) {
	ctr, err := rt.StartContainer(ctx, image, id, platform)
	if err != nil {
		return nil, err
	}
	return ctr, nil
}
