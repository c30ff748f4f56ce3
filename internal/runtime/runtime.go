package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	goruntime "runtime"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/distribution/reference"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cruciblehq/cruxship/internal/crex"
)

const (

	// Snapshotter used for container filesystems. fuse-overlayfs provides
	// overlay semantics without requiring root privileges (no mount(2)),
	// allowing builds to run as a regular user.
	snapshotter = "fuse-overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"

	// Repository under which committed stages are recorded.
	commitRepository = "cruxship/stage"
)

// Manages the containerd client and provides image and container operations.
type Runtime struct {
	client *containerd.Client
}

// Creates a runtime connected to the containerd socket at the given address.
//
// The namespace scopes all containerd operations to a single tenant. The
// runtime must be closed when no longer needed.
func New(address, namespace string) (*Runtime, error) {
	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, crex.Wrap(ErrRuntime, err)
	}
	return &Runtime{client: client}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Makes a base image available for the platform and returns its
// normalized name.
//
// An image already present in the content store is reused and only
// unpacked; otherwise it is fetched from its registry.
func (rt *Runtime) Pull(ctx context.Context, ref, platform string) (string, error) {
	named, err := reference.ParseDockerRef(ref)
	if err != nil {
		return "", crex.Wrapf(ErrRuntime, "image %q: %w", ref, err)
	}
	name := named.String()

	if _, err := rt.client.ImageService().Get(ctx, name); err == nil {
		if err := rt.unpackImage(ctx, name, platform); err == nil {
			slog.Debug("base image reused", "image", name, "platform", platform)
			return name, nil
		}
	}

	p, err := platforms.Parse(platform)
	if err != nil {
		return "", crex.Wrap(ErrRuntime, err)
	}

	slog.Info("pulling base image", "image", name, "platform", platform)
	if _, err := rt.client.Pull(ctx, name,
		containerd.WithPlatformMatcher(platforms.Only(p)),
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(snapshotter),
	); err != nil {
		return "", crex.Wrapf(ErrRuntime, "pull %s: %w", name, err)
	}

	return name, nil
}

// Creates a container from an image and starts its long-running task.
//
// A long-running task (sleep infinity) is started so that subsequent Exec
// calls have a running process to attach to. Any existing container with
// the same ID is removed before the new one is created. Building for a
// platform other than the host requires QEMU / binfmt_misc support in the
// kernel.
func (rt *Runtime) StartContainer(ctx context.Context, image, id, platform string) (*Container, error) {
	c := &Container{
		client:   rt.client,
		id:       id,
		platform: platform,
	}

	// Remove any stale container from a previous build with the same ID.
	c.remove(ctx)

	img, err := rt.resolveImage(ctx, image, platform)
	if err != nil {
		return nil, crex.Wrap(ErrRuntime, err)
	}

	ctr, err := c.create(ctx, img)
	if err != nil {
		return nil, crex.Wrap(ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, crex.Wrap(ErrRuntime, err)
	}

	slog.Debug("container started", "id", id, "image", image)
	return c, nil
}

// Imports an OCI archive into the content store.
//
// The archive must contain exactly one image. Multi-platform archives
// are supported (single OCI index with per-platform manifests).
func (rt *Runtime) importArchive(ctx context.Context, path string) (images.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return images.Image{}, err
	}
	defer fh.Close()

	imported, err := rt.client.Import(ctx, fh)
	if err != nil {
		return images.Image{}, err
	}

	// One record per entry of the archive's index.json. A multi-platform
	// image is a single entry whose index references the per-platform
	// manifests.
	if len(imported) == 0 {
		return images.Image{}, ErrEmptyArchive
	} else if len(imported) > 1 {
		return images.Image{}, ErrMultipleImages
	}

	return imported[0], nil
}

// Records source under name, replacing an existing record of that name.
//
// Removes the source record when its name differs to avoid duplicates.
func (rt *Runtime) tagImage(ctx context.Context, source images.Image, name string) error {
	if err := putImage(ctx, rt.client, name, source.Target); err != nil {
		return err
	}
	if source.Name != "" && source.Name != name {
		_ = rt.client.ImageService().Delete(ctx, source.Name)
	}
	return nil
}

// Creates or updates the image record called name.
func putImage(ctx context.Context, client *containerd.Client, name string, target ocispec.Descriptor) error {
	is := client.ImageService()
	img := images.Image{Name: name, Target: target}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}
	return nil
}

// Unpacks the image layers for the target platform into the snapshotter.
func (rt *Runtime) unpackImage(ctx context.Context, name, platform string) error {
	image, err := rt.resolveImage(ctx, name, platform)
	if err != nil {
		return err
	}

	return image.Unpack(ctx, snapshotter)
}

// Looks up an image record and selects the manifest for the given platform.
func (rt *Runtime) resolveImage(ctx context.Context, name, platform string) (containerd.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	img, err := rt.client.ImageService().Get(ctx, name)
	if err != nil {
		return nil, err
	}

	return containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p)), nil
}

// Returns the image name a committed stage is recorded under.
//
// The container ID is hashed so the name is a valid reference whatever
// characters the ID contains.
func imageTag(id string) string {
	h := sha256.Sum256([]byte(id))
	return fmt.Sprintf("%s:%s", commitRepository, hex.EncodeToString(h[:])[:32])
}

// Returns the default OCI platform for the host architecture.
func DefaultPlatform() string {
	return "linux/" + goruntime.GOARCH
}

// Imports an OCI archive, records it under the given name, and unpacks it
// for the host platform.
func (rt *Runtime) ImportImage(ctx context.Context, path, name string) error {
	named, err := reference.ParseDockerRef(name)
	if err != nil {
		return crex.Wrapf(ErrRuntime, "image name %q: %w", name, err)
	}
	name = named.String()

	source, err := rt.importArchive(ctx, path)
	if err != nil {
		return crex.Wrap(ErrRuntime, err)
	}

	if err := rt.tagImage(ctx, source, name); err != nil {
		return crex.Wrap(ErrRuntime, err)
	}

	if err := rt.unpackImage(ctx, name, DefaultPlatform()); err != nil {
		return crex.Wrap(ErrRuntime, err)
	}

	slog.Debug("image imported", "name", name, "archive", path)
	return nil
}

// Removes an image and all containers created from it.
//
// Containers are discovered by querying containerd for records whose image
// field matches the name. Each container's task is killed before the
// container and its snapshot are deleted.
func (rt *Runtime) DestroyImage(ctx context.Context, name string) error {
	ctrs, err := rt.client.Containers(ctx, fmt.Sprintf("image==%s", name))
	if err != nil {
		return crex.Wrap(ErrRuntime, err)
	}

	for _, ctr := range ctrs {
		if task, taskErr := ctr.Task(ctx, nil); taskErr == nil {
			task.Kill(ctx, syscall.SIGKILL)
			task.Delete(ctx, containerd.WithProcessKill)
		}
		if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
			return crex.Wrap(ErrRuntime, err)
		}
	}

	if err := rt.client.ImageService().Delete(ctx, name); err != nil && !errdefs.IsNotFound(err) {
		return crex.Wrap(ErrRuntime, err)
	}

	slog.Debug("image destroyed", "name", name)
	return nil
}
