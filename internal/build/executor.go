package build

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/manifest"
	"github.com/cruciblehq/cruxship/internal/runtime"
)

// Holds shared state for building all stages of a plan.
type executor struct {
	rt         Runtime
	opts       Options
	stages     map[string]Container  // Stage containers by name, for cross-stage copies.
	images     map[string]string     // Committed images of base stages by name.
	states     map[string]*stepState // Final step state of each built stage.
	containers []Container           // Destroyed after the build completes.
}

// Creates a new [executor] from the given options.
func newExecutor(rt Runtime, opts Options) *executor {
	return &executor{
		rt:     rt,
		opts:   opts,
		stages: make(map[string]Container),
		images: make(map[string]string),
		states: make(map[string]*stepState),
	}
}

// Builds every planned stage and exports the target.
//
// Evaluation stops at the first failing stage. Nothing is exported unless
// every stage succeeded.
func (e *executor) build(ctx context.Context) (*Result, error) {
	defer e.destroyImages(context.WithoutCancel(ctx))
	defer e.destroyContainers(context.WithoutCancel(ctx))

	bases := e.opts.Plan.Bases()

	for _, stage := range e.opts.Plan.Stages {
		if err := e.buildStage(ctx, stage); err != nil {
			return nil, crex.Wrapf(ErrBuild, "stage %q: %w", stage.Name, err)
		}
		if slices.Contains(bases, stage.Name) {
			if err := e.commit(ctx, stage); err != nil {
				return nil, crex.Wrapf(ErrBuild, "stage %q: %w", stage.Name, err)
			}
		}
	}

	target, _ := e.opts.Plan.Stage(e.opts.Plan.Target)
	ctr := e.stages[target.Name]

	if err := ctr.Stop(ctx); err != nil {
		return nil, crex.Wrap(ErrBuild, err)
	}

	cfg := e.imageConfig(target)
	cfg.Labels = e.opts.Labels

	archive, err := ctr.Export(ctx, e.opts.Output, cfg)
	if err != nil {
		return nil, crex.Wrap(ErrBuild, err)
	}

	return &Result{Archive: archive}, nil
}

// Builds a single stage.
//
// Resolves the stage's base, starts a container, and executes the stage's
// steps with the step state inherited from the base stage, if any.
func (e *executor) buildStage(ctx context.Context, stage *manifest.Stage) error {
	slog.Info(fmt.Sprintf("building stage %q", stage.Name), "from", stage.From, "steps", len(stage.Steps))

	image, state, err := e.base(ctx, stage)
	if err != nil {
		return err
	}
	state.applyStage(stage, e.opts.Plan.Pipeline.StageArgs(stage))

	ctr, err := e.rt.Start(ctx, image, e.containerID(stage.Name), e.opts.Platform)
	if err != nil {
		return err
	}
	e.containers = append(e.containers, ctr)
	e.stages[stage.Name] = ctr

	if err := e.executeSteps(ctx, ctr, stage, state); err != nil {
		return err
	}

	e.states[stage.Name] = state
	return nil
}

// Returns the image a stage starts from and its initial step state.
func (e *executor) base(ctx context.Context, stage *manifest.Stage) (string, *stepState, error) {
	if !e.opts.Plan.Pipeline.IsStage(stage.From) {
		image, err := e.rt.Pull(ctx, stage.From, e.opts.Platform)
		if err != nil {
			return "", nil, err
		}
		return image, newStepState(), nil
	}

	image, ok := e.images[stage.From]
	if !ok {
		return "", nil, crex.Wrapf(ErrBuild, "base stage %q was not committed", stage.From)
	}
	return image, e.states[stage.From].clone(), nil
}

// Commits a stage another stage derives from.
func (e *executor) commit(ctx context.Context, stage *manifest.Stage) error {
	image, err := e.stages[stage.Name].Commit(ctx, e.imageConfig(stage))
	if err != nil {
		return err
	}
	e.images[stage.Name] = image
	return nil
}

// Returns the runtime configuration a built stage records in its image.
func (e *executor) imageConfig(stage *manifest.Stage) runtime.ImageConfig {
	state := e.states[stage.Name]
	return runtime.ImageConfig{
		Cmd:     stage.Cmd,
		Env:     state.environ(),
		Workdir: state.workdir,
	}
}

// Destroys all stage containers.
func (e *executor) destroyContainers(ctx context.Context) {
	for _, ctr := range e.containers {
		slog.Debug("destroying stage container", "id", ctr.ID())
		ctr.Destroy(ctx)
	}
}

// Removes the images committed for base stages. Only the exported target
// outlives the build.
func (e *executor) destroyImages(ctx context.Context) {
	for name, image := range e.images {
		if err := e.rt.DestroyImage(ctx, image); err != nil {
			slog.Warn("failed to remove stage image", "stage", name, "error", err)
		}
	}
}

// Returns a unique container ID for a stage, scoped to the prefix and
// platform.
func (e *executor) containerID(name string) string {
	return fmt.Sprintf("%s-%s-%s", e.opts.Prefix, platformSlug(e.opts.Platform), name)
}

// Converts a platform string to a filesystem-safe slug.
//
// Replaces slashes with dashes (e.g., "linux/amd64" becomes "linux-amd64").
func platformSlug(platform string) string {
	return strings.ReplaceAll(platform, "/", "-")
}
