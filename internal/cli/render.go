package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"

	"github.com/cruciblehq/cruxship/internal/dockerfile"
	"github.com/cruciblehq/cruxship/internal/graph"
	"github.com/cruciblehq/cruxship/internal/manifest"
	"github.com/cruciblehq/cruxship/internal/mount"
)

// Represents the 'cruxship render' command.
type RenderCmd struct {
	Target string `arg:"" optional:"" help:"Stage to render instead of the pipeline's target."`
}

// Executes the render command.
func (c *RenderCmd) Run(ctx context.Context) error {
	plan, err := resolvePlan(c.Target)
	if err != nil {
		return err
	}

	df, err := dockerfile.Render(plan)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(df)
	return err
}

// Represents the 'cruxship plan' command.
type PlanCmd struct {
	Target string `arg:"" optional:"" help:"Stage to plan instead of the pipeline's target."`
}

// Executes the plan command.
func (c *PlanCmd) Run(ctx context.Context) error {
	plan, err := resolvePlan(c.Target)
	if err != nil {
		return err
	}
	return writePlan(os.Stdout, plan)
}

// Loads the pipeline and resolves the plan for target, honoring --no-cache.
func resolvePlan(target string) (*graph.Plan, error) {
	p, err := manifest.Load(RootCmd.File)
	if err != nil {
		return nil, err
	}
	plan, err := graph.Resolve(p, target)
	if err != nil {
		return nil, err
	}
	if RootCmd.NoCache {
		plan = plan.WithoutCaches()
	}
	return plan, nil
}

// Writes one row per planned stage: its name, base, artifact and the
// mounts its steps declare.
func writePlan(w io.Writer, plan *graph.Plan) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tFROM\tARTIFACT\tMOUNTS")

	for _, s := range plan.Stages {
		var mounts []mount.Mount
		for _, u := range s.Uses() {
			mounts = append(mounts, u.Mounts...)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.From, orDash(s.Artifact()), orDash(summarize(mounts)))
	}

	return tw.Flush()
}

// Counts mounts by kind, e.g. "4 cache, 1 secret, 1 ssh".
func summarize(mounts []mount.Mount) string {
	byKind := lo.GroupBy(mounts, func(m mount.Mount) mount.Kind { return m.Kind })
	var parts []string
	for _, k := range []mount.Kind{mount.KindCache, mount.KindSecret, mount.KindSSH} {
		if n := len(byKind[k]); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, k))
		}
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
