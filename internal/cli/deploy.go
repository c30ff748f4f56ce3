package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cruciblehq/cruxship/internal/deploy"
	"github.com/cruciblehq/cruxship/internal/manifest"
	"github.com/cruciblehq/cruxship/internal/pipeline"
)

// Represents the 'cruxship deploy' command, run when no command is given.
type DeployCmd struct {
	Target string `help:"Stage to build instead of the pipeline's target." placeholder:"STAGE"`
	Tag    string `help:"Reference to tag instead of the pipeline's." placeholder:"REF"`
}

// Executes the deploy command.
//
// The deployment command runs only after the image was built, verified and
// tagged.
func (c *DeployCmd) Run(ctx context.Context) error {
	return withDriver(func(d *pipeline.Driver, opts pipeline.Options) error {
		opts.Target, opts.Tag = c.Target, c.Tag

		out, err := d.Run(ctx, opts)
		if err != nil {
			return err
		}
		fmt.Println(out.Image)
		return nil
	})
}

// Represents the 'cruxship build' command.
type BuildCmd struct {
	Target string `help:"Stage to build instead of the pipeline's target." placeholder:"STAGE"`
	Tag    string `help:"Reference to tag instead of the pipeline's." placeholder:"REF"`
}

// Executes the build command.
func (c *BuildCmd) Run(ctx context.Context) error {
	return withDriver(func(d *pipeline.Driver, opts pipeline.Options) error {
		opts.Target, opts.Tag = c.Target, c.Tag

		out := d.Build(ctx, opts)
		if !out.OK() {
			return out.Err
		}
		fmt.Println(out.Image)
		return nil
	})
}

// Loads the pipeline, connects the engine and calls fn with a driver and
// the options given by the global flags.
func withDriver(fn func(*pipeline.Driver, pipeline.Options) error) (err error) {
	p, err := manifest.Load(RootCmd.File)
	if err != nil {
		return err
	}

	secrets, err := parseSecrets(RootCmd.Secret)
	if err != nil {
		return err
	}

	eng, closeEngine, err := openEngine()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeEngine(); closeErr != nil {
			slog.Warn("engine not closed cleanly", "engine", eng.Name(), "error", closeErr)
		}
	}()

	slog.Debug("engine connected", "engine", eng.Name())

	d := pipeline.New(p, eng, &deploy.Command{Line: p.Deploy.Command, Dir: p.Deploy.Dir})
	return fn(d, pipeline.Options{
		NoCache: RootCmd.NoCache,
		Args:    RootCmd.BuildArg,
		Secrets: secrets,
		Stdout:  buildOutput(),
		Stderr:  buildOutput(),
	})
}
