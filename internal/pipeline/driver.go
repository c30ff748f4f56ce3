package pipeline

import (
	"context"
	"io"
	"log/slog"
	"maps"

	"github.com/cruciblehq/cruxship/internal/credentials"
	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/deploy"
	"github.com/cruciblehq/cruxship/internal/engine"
	"github.com/cruciblehq/cruxship/internal/graph"
	"github.com/cruciblehq/cruxship/internal/manifest"
	"github.com/cruciblehq/cruxship/internal/mount"
	"github.com/cruciblehq/cruxship/internal/source"
)

// Per-invocation settings.
type Options struct {
	Target  string            // Stage to build. Empty selects the pipeline's.
	Tag     string            // Reference to tag. Empty selects the pipeline's.
	NoCache bool              // Build without cache mounts.
	Args    map[string]string // Build args overriding the pipeline's.
	Secrets []mount.Binding   // Secrets bound in addition to the credentials.
	Stdout  io.Writer         // Build output. Nil discards it.
	Stderr  io.Writer         // Build diagnostics. Nil discards it.
}

// Runs pipelines against an engine and a deployer.
type Driver struct {
	pipeline *manifest.Pipeline
	engine   engine.Engine
	deployer deploy.Deployer

	// Credential sources. NeedAgent is derived from the plan.
	Credentials credentials.Options

	// Describes the build context revision. Defaults to [source.Describe].
	Describe func(dir string) (source.Revision, error)
}

// Creates a driver for the pipeline.
func New(p *manifest.Pipeline, eng engine.Engine, dep deploy.Deployer) *Driver {
	return &Driver{
		pipeline: p,
		engine:   eng,
		deployer: dep,
		Describe: source.Describe,
	}
}

// Prepared build, produced by the preflight phase.
type preflight struct {
	plan    *graph.Plan
	bundle  *credentials.Bundle
	request engine.Request
	tag     string
}

// Builds, verifies and tags the target image.
//
// Phases run in order and the first failure ends the build. The image is
// tagged only after every earlier phase succeeded; an image built but not
// tagged is discarded.
func (d *Driver) Build(ctx context.Context, opts Options) Outcome {
	out := Outcome{Phase: PhasePreflight}

	pf, err := d.preflight(ctx, opts)
	if err != nil {
		return d.fail(out, err)
	}
	out.Artifacts = pf.plan.Artifacts()

	out.Phase = PhaseBuild
	result, err := d.engine.Build(ctx, pf.request)
	if err != nil {
		return d.fail(out, err)
	}
	out.ImageID = result.ImageID

	out.Phase = PhaseVerify
	if err := d.verify(ctx, result.ImageID, pf.bundle.Needles()); err != nil {
		return d.discard(ctx, out, err)
	}

	out.Phase = PhaseTag
	if err := ctx.Err(); err != nil {
		return d.discard(ctx, out, err)
	}
	if err := d.engine.Tag(ctx, result.ImageID, pf.tag); err != nil {
		return d.discard(ctx, out, err)
	}
	out.Image = pf.tag

	slog.Info("build complete", "outcome", out)
	return out
}

// Resolves the plan, provisions credentials and checks secret and agent
// scope.
func (d *Driver) preflight(ctx context.Context, opts Options) (*preflight, error) {
	p := d.invocation(opts.Args)

	plan, err := graph.Resolve(p, opts.Target)
	if err != nil {
		return nil, err
	}
	if opts.NoCache {
		plan = plan.WithoutCaches()
	}
	slog.Info("plan resolved", "target", plan.Target, "stages", plan.Names())

	uses := plan.Uses()

	copts := d.Credentials
	copts.NeedAgent = mount.ForwardsSSH(uses)
	bundle, err := credentials.Load(ctx, p.Credentials, copts)
	if err != nil {
		return nil, err
	}

	set, err := bundle.Set(opts.Secrets...)
	if err != nil {
		return nil, err
	}
	if err := mount.CheckScope(uses, set.Has); err != nil {
		return nil, err
	}
	if err := mount.CheckAgent(uses, bundle.Agent); err != nil {
		return nil, err
	}

	if name, leaks := bundle.LeaksInto(p.Args); leaks {
		return nil, crex.Wrapf(ErrLeak, "build arg %q carries credential material", name)
	}

	labels, err := d.labels(p)
	if err != nil {
		return nil, err
	}

	tag := opts.Tag
	if tag == "" {
		tag = p.Tag
	}

	return &preflight{
		plan:   plan,
		bundle: bundle,
		tag:    tag,
		request: engine.Request{
			Plan:    plan,
			Secrets: set,
			SSH:     bundle.Agent,
			Labels:  labels,
			Squash:  p.Squash,
			Stdout:  opts.Stdout,
			Stderr:  opts.Stderr,
		},
	}, nil
}

// Returns a copy of the pipeline with the invocation's build args applied.
// The driver's pipeline is never modified, so overrides end with the
// invocation.
func (d *Driver) invocation(args map[string]string) *manifest.Pipeline {
	p := *d.pipeline
	p.Args = maps.Clone(d.pipeline.Args)
	for name, value := range args {
		p.SetArg(name, value)
	}
	return &p
}

// Returns the pipeline's labels with the source revision added.
func (d *Driver) labels(p *manifest.Pipeline) (map[string]string, error) {
	labels := maps.Clone(p.Labels)
	if labels == nil {
		labels = make(map[string]string)
	}

	if d.Describe == nil {
		return labels, nil
	}
	rev, err := d.Describe(p.Context)
	if err != nil {
		return nil, err
	}
	if r := rev.String(); r != "" {
		labels[engine.RevisionLabel] = r
	}
	return labels, nil
}

// Records a failure in the outcome.
func (d *Driver) fail(out Outcome, err error) Outcome {
	out.Err = err
	slog.Error("build failed", "outcome", out)
	return out
}

// Discards the untagged image and records the failure.
func (d *Driver) discard(ctx context.Context, out Outcome, err error) Outcome {
	if discardErr := d.engine.Discard(context.WithoutCancel(ctx), out.ImageID); discardErr != nil {
		slog.Warn("untagged image not discarded", "id", out.ImageID, "error", discardErr)
	}
	out.ImageID = ""
	return d.fail(out, err)
}

// Runs the deployment command for a successful build.
//
// A failed outcome is refused without invoking the deployer, and its error
// is kept so the failing sub-process's exit status still propagates.
func (d *Driver) Deploy(ctx context.Context, out Outcome) error {
	if !out.OK() {
		if out.Err != nil {
			return crex.Wrapf(ErrNotBuilt, "%s phase: %w", out.Phase, out.Err)
		}
		return ErrNotBuilt
	}
	return d.deployer.Deploy(ctx, out.Image)
}

// Builds then deploys.
func (d *Driver) Run(ctx context.Context, opts Options) (Outcome, error) {
	out := d.Build(ctx, opts)
	if err := d.Deploy(ctx, out); err != nil {
		return out, err
	}
	out.Phase = PhaseDeploy
	return out, nil
}
