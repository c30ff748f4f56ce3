// Package pipeline drives a build from the pipeline file to deployment.
//
// A run is two explicit stages. [Driver.Build] provisions credentials,
// resolves the plan, checks secret scope, hands a single request to the
// engine, scans the produced image for credential material and only then
// tags it. Its [Outcome] records the phase reached and either the tagged
// image or the reason it failed. [Driver.Deploy] accepts only a successful
// outcome, so a failed build never reaches the deployment command.
//
// An image that fails verification, or whose build is cancelled before the
// tag phase completes, is discarded untagged.
//
// Example:
//
//	d := pipeline.New(p, eng, &deploy.Command{Line: p.Deploy.Command, Dir: p.Deploy.Dir})
//	outcome, err := d.Run(ctx, pipeline.Options{})
//	if err != nil {
//		return err
//	}
//	slog.Info("deployed", "image", outcome.Image)
package pipeline
