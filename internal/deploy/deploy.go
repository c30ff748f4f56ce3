// Package deploy runs the external deployment command after a successful
// build.
//
// The command reads its own configuration and credentials, so nothing
// produced by the build is forwarded to it except the image reference in
// [ImageEnv].
package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/mattn/go-shellwords"

	"github.com/cruciblehq/cruxship/internal/command"
	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/manifest"
)

// Environment variable carrying the deployed image reference.
const ImageEnv = "CRUXSHIP_IMAGE"

var ErrDeploy = errors.New("deployment failed")

// Hands a tagged image to a deployment service.
type Deployer interface {
	Deploy(ctx context.Context, image string) error
}

// Deploys by running a command line.
type Command struct {
	Line   string         // Command line, split with shell quoting rules. Defaults to [manifest.DefaultDeployCommand].
	Dir    string         // Working directory. Empty means the current one.
	Runner command.Runner // Defaults to [command.Exec].
	Stdout io.Writer      // Defaults to os.Stdout.
	Stderr io.Writer      // Defaults to os.Stderr.
}

// Implements [Deployer].
//
// A non-zero exit keeps its status, so the caller can report it as its own.
func (c *Command) Deploy(ctx context.Context, image string) error {
	line := c.Line
	if line == "" {
		line = manifest.DefaultDeployCommand
	}

	argv, err := split(line)
	if err != nil {
		return err
	}

	runner := c.Runner
	if runner == nil {
		runner = command.Exec{}
	}

	slog.Info("deploying", "image", image, "command", argv[0], "dir", c.Dir)

	err = runner.Run(ctx, command.Cmd{
		Name:   argv[0],
		Args:   argv[1:],
		Dir:    c.Dir,
		Env:    []string{ImageEnv + "=" + image},
		Stdout: c.Stdout,
		Stderr: c.Stderr,
	})
	if err != nil {
		return crex.Wrap(ErrDeploy, err)
	}

	slog.Info("deployed", "image", image)
	return nil
}

// Splits a command line into words. Environment references are left to the
// command itself.
func split(line string) ([]string, error) {
	argv, err := shellwords.Parse(line)
	if err != nil {
		return nil, crex.Wrapf(ErrDeploy, "command %q: %w", line, err)
	}
	if len(argv) == 0 {
		return nil, crex.Wrapf(ErrDeploy, "empty command")
	}
	return argv, nil
}
