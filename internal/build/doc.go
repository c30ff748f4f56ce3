// Package build executes a resolved plan against containerd.
//
// Every planned stage runs in its own container, started from its base
// image or from the committed image of the stage it derives from. Steps run
// in declaration order: commands execute through the stage shell, copy steps
// stream tar archives from the build context or another stage, and artifact
// steps transfer exactly one file produced by another stage's compile step.
//
// Step mounts are resolved per instruction. Cache mounts bind directories
// from a [cache.Store], secret mounts bind files from the invocation's
// materialized secrets, and ssh mounts bind the forwarded agent socket. None
// of them is part of the stage snapshot.
//
// The target stage is exported as an OCI archive carrying the stage's
// command, environment, working directory and the requested labels.
//
// Example usage:
//
//	result, err := build.Run(ctx, rt, build.Options{
//	    Plan:    plan,
//	    Secrets: secrets,
//	    Cache:   store,
//	    Output:  dir,
//	})
//	if err != nil {
//	    return err
//	}
package build
