// Package runtime runs build stages as containerd containers.
//
// A [Runtime] connects to a containerd daemon. Base images are pulled and
// unpacked for the build platform, and each stage gets a [Container] with
// its own snapshot and a long-running task that commands attach to.
//
// Commands that declare mounts cannot attach to the running task, since a
// task's mounts are fixed at creation. They run instead as the primary
// process of a short-lived sibling container sharing the stage's snapshot,
// with cache directories, secret files and the agent socket bound in. Bind
// mounts are not part of the snapshot, so nothing they expose reaches a
// layer.
//
// A stage used as the base of another is committed as a new image. The
// target stage is exported as an OCI archive with its runtime configuration
// applied, and can be imported back under a tag.
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "cruxship")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	image, err := rt.Pull(ctx, "debian:bookworm-slim", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//
//	ctr, err := rt.StartContainer(ctx, image, "build-1", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(ctx)
//
//	result, err := ctr.Exec(ctx, runtime.Process{Shell: []string{"/bin/sh", "-c"}, Script: "echo hello"})
//	if err != nil {
//	    return err
//	}
//
//	archive, err := ctr.Export(ctx, "output", runtime.ImageConfig{Cmd: []string{"/app/server"}})
//	if err != nil {
//	    return err
//	}
package runtime
