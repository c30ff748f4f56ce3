package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/cruciblehq/cruxship/internal"
	"github.com/cruciblehq/cruxship/internal/engine/buildx"
	"github.com/cruciblehq/cruxship/internal/engine/local"
	"github.com/cruciblehq/cruxship/internal/manifest"
)

// Flags and commands of cruxship.
type Root struct {
	Quiet   bool `short:"q" help:"Suppress informational output."`
	Verbose bool `short:"v" help:"Enable verbose output."`
	Debug   bool `short:"d" help:"Enable debug output."`

	File     string            `short:"f" help:"Pipeline file." default:"${file}" env:"CRUXSHIP_FILE" type:"path" placeholder:"PATH"`
	Engine   string            `help:"Build engine (${enum})." enum:"${engines}" default:"${engine}" env:"CRUXSHIP_ENGINE"`
	NoCache  bool              `help:"Build without cache mounts."`
	BuildArg map[string]string `name:"build-arg" help:"Override a build arg." placeholder:"NAME=VALUE"`
	Secret   []string          `help:"Bind a secret for this invocation." sep:"none" placeholder:"id=ID,src=PATH"`

	Containerd ContainerdFlags `embed:"" prefix:"containerd-"`

	Deploy  DeployCmd  `cmd:"" default:"withargs" help:"Build, verify, tag and deploy the target (default)."`
	Build   BuildCmd   `cmd:"" help:"Build, verify and tag the target without deploying."`
	Render  RenderCmd  `cmd:"" help:"Print the Dockerfile rendered for the target."`
	Plan    PlanCmd    `cmd:"" help:"Print the stages the target needs, in build order."`
	Cache   CacheCmd   `cmd:"" help:"Manage the local engine's cache mounts."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Settings of the containerd connection used by the local engine.
type ContainerdFlags struct {
	Address   string `help:"Containerd socket address." default:"/run/containerd/containerd.sock" env:"CONTAINERD_ADDRESS" placeholder:"PATH"`
	Namespace string `help:"Containerd namespace for images and containers." default:"${name}" env:"CONTAINERD_NAMESPACE"`
	Platform  string `help:"Target platform. Defaults to the host's." placeholder:"OS/ARCH"`
}

// Parsed command line.
var RootCmd Root

// Variables interpolated into flag tags.
func vars() kong.Vars {
	return kong.Vars{
		"version": internal.VersionString(),
		"name":    internal.Name,
		"file":    manifest.DefaultFile,
		"engine":  buildx.Name,
		"engines": buildx.Name + "," + local.Name,
	}
}

// Parses arguments, configures logging, and runs the selected command.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Secret-scoped, cache-aware multi-stage build and deploy.\n\nBuilds the target stage of a pipeline file, verifies no credential material reached the image, tags it and runs the deployment command."),
		kong.UsageOnError(),
		vars(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger(RootCmd.Quiet, RootCmd.Verbose, RootCmd.Debug)

	return kongCtx.Run()
}
