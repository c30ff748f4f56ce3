package runtime

import (
	"context"
	"io"
	"log/slog"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"

	"github.com/cruciblehq/cruxship/internal/crex"
)

// Runs a process with bind mounts in a sibling container.
//
// The sibling shares the stage's active snapshot, so filesystem changes the
// process makes land in the stage while its mounts do not. The stage task is
// stopped first so only one process tree writes the snapshot; the next
// attached exec restarts it. The sibling is deleted without its snapshot.
func (c *Container) execMounted(ctx context.Context, p Process, stdout, stderr io.Writer) (int, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return 0, crex.Wrap(ErrRuntime, err)
	}

	info, err := ctr.Info(ctx)
	if err != nil {
		return 0, crex.Wrap(ErrRuntime, err)
	}

	spec, err := ctr.Spec(ctx)
	if err != nil {
		return 0, crex.Wrap(ErrRuntime, err)
	}

	if err := c.Stop(ctx); err != nil {
		return 0, err
	}

	opts := []oci.SpecOpts{
		oci.WithProcessArgs(p.args()...),
		oci.WithMounts(p.Mounts),
	}
	if len(p.Env) > 0 {
		opts = append(opts, oci.WithEnv(p.Env))
	}
	if p.Workdir != "" {
		opts = append(opts, oci.WithProcessCwd(p.Workdir))
	}

	id := c.id + "-" + nextExecID()
	sibling, err := c.client.NewContainer(ctx, id,
		containerd.WithSnapshotter(info.Snapshotter),
		containerd.WithSnapshot(info.SnapshotKey),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithSpec(spec, opts...),
	)
	if err != nil {
		return 0, crex.Wrap(ErrRuntime, err)
	}
	defer func() {
		if err := sibling.Delete(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to delete mounted exec container", "id", id, "error", err)
		}
	}()

	task, err := sibling.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, stdout, stderr)))
	if err != nil {
		return 0, crex.Wrap(ErrRuntime, err)
	}

	slog.Debug("mounted exec", "container", c.id, "mounts", len(p.Mounts))
	return awaitProcess(ctx, task, nil)
}
