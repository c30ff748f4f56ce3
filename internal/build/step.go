package build

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/manifest"
	"github.com/cruciblehq/cruxship/internal/runtime"
)

// Executes the steps of a stage in order against its container.
func (e *executor) executeSteps(ctx context.Context, ctr Container, stage *manifest.Stage, state *stepState) error {
	for i, step := range stage.Steps {
		if err := e.executeStep(ctx, ctr, step, state); err != nil {
			return crex.Wrapf(ErrBuild, "%s: %w", stage.StepLabel(i), err)
		}
	}
	return nil
}

// Executes a single step, dispatching on its kind.
//
// Modifier steps persist in the state. Every other step sees its own scoped
// modifiers overlaid on the state for that step only.
func (e *executor) executeStep(ctx context.Context, ctr Container, step *manifest.Step, state *stepState) error {
	if step.Modifier() {
		state.apply(step)
		return nil
	}

	resolved := state.resolve(step)

	switch step.Kind {
	case manifest.StepRun:
		return e.execute(ctx, ctr, step, resolved, ErrCommandFailed)

	case manifest.StepInstall:
		return e.execute(ctx, ctr, step, resolved, ErrInstall)

	case manifest.StepCompile:
		if err := e.execute(ctx, ctr, step, resolved, ErrCompile); err != nil {
			return err
		}
		ok, err := ctr.FileExists(ctx, step.Artifact)
		if err != nil {
			return crex.Wrap(ErrCompile, err)
		}
		if !ok {
			return crex.Wrapf(ErrCompile, "artifact %s was not produced", step.Artifact)
		}
		slog.Info("artifact produced", "path", step.Artifact)
		return nil

	case manifest.StepCopy:
		return executeCopy(ctx, ctr, step, resolved.workdir, e.opts.Plan.Pipeline.Context, e.stages)

	case manifest.StepArtifact:
		return e.executeArtifact(ctx, ctr, step, resolved.workdir)
	}

	return crex.Wrapf(ErrBuild, "unknown step kind %q", step.Kind)
}

// Runs an executing step's script through the resolved shell with the
// step's mounts. A non-zero exit fails with the given sentinel.
func (e *executor) execute(ctx context.Context, ctr Container, step *manifest.Step, resolved *stepState, failure error) error {
	if resolved.workdir != "" {
		if err := ctr.MkdirAll(ctx, resolved.workdir); err != nil {
			return err
		}
	}

	mounts, env, err := e.resolveMounts(ctx, step.Mounts)
	if err != nil {
		return err
	}

	slog.Debug(string(step.Kind), "shell", resolved.shell, "workdir", resolved.workdir, "mounts", len(mounts))

	result, err := ctr.Exec(ctx, runtime.Process{
		Shell:   resolved.argv(),
		Script:  step.Script(),
		Env:     append(resolved.processEnv(), env...),
		Workdir: resolved.workdir,
		Mounts:  mounts,
		Output:  e.opts.Log,
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return crex.Wrapf(failure, "exit code %d: %s", result.ExitCode, lastLine(result.Stderr))
	}
	return nil
}

// Copies the artifact of another stage into the container.
func (e *executor) executeArtifact(ctx context.Context, ctr Container, step *manifest.Step, workdir string) error {
	src, ok := e.opts.Plan.Stage(step.From)
	if !ok {
		return crex.Wrapf(ErrAssembly, "stage %q is not part of the plan", step.From)
	}
	srcCtr := e.stages[src.Name]

	artifact := src.Artifact()
	exists, err := srcCtr.FileExists(ctx, artifact)
	if err != nil {
		return crex.Wrap(ErrAssembly, err)
	}
	if !exists {
		return crex.Wrapf(ErrAssembly, "stage %q has no artifact at %s", src.Name, artifact)
	}

	dest := step.ArtifactDest(artifact)
	if !path.IsAbs(dest) {
		if workdir == "" {
			return crex.Wrapf(ErrAssembly, "relative destination %q requires a workdir", dest)
		}
		dest = path.Join(workdir, dest)
	}

	if err := ctr.MkdirAll(ctx, path.Dir(dest)); err != nil {
		return crex.Wrap(ErrAssembly, err)
	}

	slog.Debug("artifact", "stage", src.Name, "src", artifact, "dest", dest)
	if err := copyFromStage(ctx, ctr, srcCtr, artifact, dest); err != nil {
		return crex.Wrap(ErrAssembly, err)
	}
	return nil
}

// Returns the last non-empty line of s.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
