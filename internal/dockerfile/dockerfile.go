// Package dockerfile renders a resolved plan as a BuildKit Dockerfile.
//
// Each planned stage becomes a FROM block and each step one instruction.
// Mounts render as RUN --mount flags, so BuildKit scopes secrets, the agent
// socket and caches to the instruction that declares them. Multi-line
// scripts render as heredocs and stop at the first failing command.
package dockerfile

import (
	"encoding/json"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/graph"
	"github.com/cruciblehq/cruxship/internal/manifest"
	"github.com/cruciblehq/cruxship/internal/mount"
)

// Frontend syntax the rendered file requests.
const syntax = "docker/dockerfile:1"

// Heredoc delimiter, suffixed when a script contains it.
const delimiter = "CRUXSHIP"

// Renders the plan.
func Render(plan *graph.Plan) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# syntax=%s\n", syntax)

	for _, s := range plan.Stages {
		b.WriteByte('\n')
		if err := renderStage(&b, plan.Pipeline, s); err != nil {
			return nil, crex.Wrapf(ErrRender, "stage %q: %w", s.Name, err)
		}
	}

	return []byte(b.String()), nil
}

func renderStage(b *strings.Builder, p *manifest.Pipeline, s *manifest.Stage) error {
	fmt.Fprintf(b, "FROM %s AS %s\n", s.From, s.Name)

	for _, arg := range s.Args {
		fmt.Fprintf(b, "ARG %s\n", arg)
	}
	if s.Shell != "" {
		fmt.Fprintf(b, "SHELL %s\n", jsonArray(manifest.ShellArgv(s.Shell)))
	}
	if s.Workdir != "" {
		fmt.Fprintf(b, "WORKDIR %s\n", s.Workdir)
	}
	if len(s.Env) > 0 {
		fmt.Fprintf(b, "ENV %s\n", envPairs(s.Env))
	}

	workdir := s.Workdir
	for i, step := range s.Steps {
		if err := renderStep(b, p, step, &workdir); err != nil {
			return fmt.Errorf("%s: %w", s.StepLabel(i), err)
		}
	}

	if len(s.Cmd) > 0 {
		fmt.Fprintf(b, "CMD %s\n", jsonArray(s.Cmd))
	}
	return nil
}

func renderStep(b *strings.Builder, p *manifest.Pipeline, step *manifest.Step, workdir *string) error {
	switch step.Kind {
	case manifest.StepEnv:
		fmt.Fprintf(b, "ENV %s\n", envPairs(step.Env))

	case manifest.StepWorkdir:
		*workdir = step.Workdir
		fmt.Fprintf(b, "WORKDIR %s\n", step.Workdir)

	case manifest.StepShell:
		fmt.Fprintf(b, "SHELL %s\n", jsonArray(manifest.ShellArgv(step.Shell)))

	case manifest.StepRun, manifest.StepInstall, manifest.StepCompile:
		renderRun(b, step)

	case manifest.StepCopy:
		dest, err := resolveDest(step.Dest, step.Workdir, *workdir)
		if err != nil {
			return err
		}
		if len(step.Sources) > 1 && !strings.HasSuffix(dest, "/") {
			dest += "/"
		}
		from := ""
		if step.From != "" {
			from = "--from=" + step.From + " "
		}
		fmt.Fprintf(b, "COPY %s%s %s\n", from, strings.Join(step.Sources, " "), dest)

	case manifest.StepArtifact:
		src, ok := p.Stage(step.From)
		if !ok || src.Artifact() == "" {
			return crex.Wrapf(ErrRender, "stage %q declares no artifact", step.From)
		}
		artifact := src.Artifact()
		fmt.Fprintf(b, "COPY --from=%s %s %s\n", step.From, artifact, step.ArtifactDest(artifact))

	default:
		return crex.Wrapf(ErrRender, "unknown step kind %q", step.Kind)
	}
	return nil
}

// Renders an executing step as one RUN instruction with its mounts.
//
// Step-scoped modifiers are applied inside the script so they do not leak
// into later instructions.
func renderRun(b *strings.Builder, step *manifest.Step) {
	flags := lo.Map(step.Mounts, func(m mount.Mount, _ int) string { return m.Flag() })

	var prelude []string
	if step.Workdir != "" {
		prelude = append(prelude, "mkdir -p "+shellQuote(step.Workdir)+" && cd "+shellQuote(step.Workdir))
	}
	for _, k := range slices.Sorted(maps.Keys(step.Env)) {
		prelude = append(prelude, "export "+k+"="+shellQuote(step.Env[k]))
	}

	script := step.Script()
	if len(prelude) > 0 {
		script = manifest.Errexit(strings.Join(append(prelude, script), "\n"))
	}
	if step.Shell != "" {
		script = "#!" + manifest.ShellArgv(step.Shell)[0] + "\n" + script
	}

	b.WriteString("RUN ")
	for _, f := range flags {
		b.WriteString(f)
		b.WriteString(" \\\n    ")
	}

	if !strings.Contains(script, "\n") {
		b.WriteString(script)
		b.WriteByte('\n')
		return
	}

	delim := heredocDelimiter(script)
	fmt.Fprintf(b, "<<'%s'\n%s\n%s\n", delim, script, delim)
}

// Returns a delimiter no line of script equals.
func heredocDelimiter(script string) string {
	lines := strings.Split(script, "\n")
	delim := delimiter
	for i := 1; slices.Contains(lines, delim); i++ {
		delim = fmt.Sprintf("%s_%d", delimiter, i)
	}
	return delim
}

func resolveDest(dest, scoped, current string) (string, error) {
	if path.IsAbs(dest) {
		return dest, nil
	}
	base := scoped
	if base == "" {
		base = current
	}
	if base == "" {
		return "", crex.Wrapf(ErrRender, "relative destination %q requires a workdir", dest)
	}
	joined := path.Join(base, dest)
	if strings.HasSuffix(dest, "/") {
		joined += "/"
	}
	return joined, nil
}

func envPairs(env map[string]string) string {
	pairs := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		v, _ := json.Marshal(env[k])
		pairs = append(pairs, k+"="+string(v))
	}
	return strings.Join(pairs, " ")
}

func jsonArray(items []string) string {
	out, _ := json.Marshal(items)
	return string(out)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
