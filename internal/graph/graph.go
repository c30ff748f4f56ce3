package graph

import (
	"log/slog"
	"slices"

	"github.com/samber/lo"

	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/manifest"
	"github.com/cruciblehq/cruxship/internal/mount"
)

// Ordered set of stages needed to build a target.
type Plan struct {
	Pipeline *manifest.Pipeline
	Target   string
	Stages   []*manifest.Stage // Dependencies first.
}

// Resolves the plan for target. An empty target selects the pipeline's.
func Resolve(p *manifest.Pipeline, target string) (*Plan, error) {
	if target == "" {
		target = p.Target
	}
	if _, ok := p.Stage(target); !ok {
		return nil, crex.Wrapf(ErrGraph, "unknown target stage %q", target)
	}

	order := make(map[string]int, len(p.Stages))
	for i, s := range p.Stages {
		order[s.Name] = i
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(p.Stages))
	var stages []*manifest.Stage

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return crex.Wrapf(ErrCycle, "%s", formatCycle(append(path, name), name))
		}
		state[name] = visiting

		s, _ := p.Stage(name)
		deps, err := dependencies(p, s)
		if err != nil {
			return err
		}
		slices.SortFunc(deps, func(a, b string) int { return order[a] - order[b] })

		for _, dep := range deps {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}

		state[name] = done
		stages = append(stages, s)
		return nil
	}

	if err := visit(target, nil); err != nil {
		return nil, err
	}

	slog.Debug("stage graph resolved",
		"target", target,
		"stages", lo.Map(stages, func(s *manifest.Stage, _ int) string { return s.Name }),
		"skipped", len(p.Stages)-len(stages),
	)

	return &Plan{Pipeline: p, Target: target, Stages: stages}, nil
}

// Returns the stages s depends on and checks that each reference resolves.
func dependencies(p *manifest.Pipeline, s *manifest.Stage) ([]string, error) {
	var deps []string
	if p.IsStage(s.From) {
		deps = append(deps, s.From)
	}

	for i, step := range s.Steps {
		if step.From == "" {
			continue
		}
		src, ok := p.Stage(step.From)
		if !ok {
			return nil, crex.Wrapf(ErrGraph, "%s: unknown stage %q", s.StepLabel(i), step.From)
		}
		if step.Kind == manifest.StepArtifact && src.Artifact() == "" {
			return nil, crex.Wrapf(ErrGraph, "%s: stage %q declares no artifact", s.StepLabel(i), step.From)
		}
		deps = append(deps, step.From)
	}

	return lo.Uniq(deps), nil
}

func formatCycle(path []string, start string) string {
	i := slices.Index(path, start)
	cycle := path[i:]
	out := cycle[0]
	for _, n := range cycle[1:] {
		out += " -> " + n
	}
	return out
}

// Returns the names of the planned stages in order.
func (p *Plan) Names() []string {
	return lo.Map(p.Stages, func(s *manifest.Stage, _ int) string { return s.Name })
}

// Returns the planned stage with the given name.
func (p *Plan) Stage(name string) (*manifest.Stage, bool) {
	i := slices.IndexFunc(p.Stages, func(s *manifest.Stage) bool { return s.Name == name })
	if i < 0 {
		return nil, false
	}
	return p.Stages[i], true
}

// Returns the names of planned stages another planned stage derives from.
func (p *Plan) Bases() []string {
	var bases []string
	for _, s := range p.Stages {
		if p.Pipeline.IsStage(s.From) && !slices.Contains(bases, s.From) {
			bases = append(bases, s.From)
		}
	}
	return bases
}

// Returns the image reference a stage ultimately derives from.
func (p *Plan) Root(name string) string {
	s, ok := p.Pipeline.Stage(name)
	for ok && p.Pipeline.IsStage(s.From) {
		s, ok = p.Pipeline.Stage(s.From)
	}
	if !ok {
		return ""
	}
	return s.From
}

// Returns the artifact path of every planned stage that produces one.
func (p *Plan) Artifacts() map[string]string {
	artifacts := make(map[string]string)
	for _, s := range p.Stages {
		if a := s.Artifact(); a != "" {
			artifacts[s.Name] = a
		}
	}
	return artifacts
}

// Returns the mounts declared by every planned step.
func (p *Plan) Uses() []mount.Use {
	return lo.FlatMap(p.Stages, func(s *manifest.Stage, _ int) []mount.Use { return s.Uses() })
}

// Returns a copy of the plan without cache mounts.
//
// The copy builds the same image; caches only change how long it takes.
func (p *Plan) WithoutCaches() *Plan {
	stages := make([]*manifest.Stage, len(p.Stages))
	for i, s := range p.Stages {
		cp := *s
		cp.Steps = make([]*manifest.Step, len(s.Steps))
		for j, step := range s.Steps {
			sc := *step
			sc.Mounts = mount.Strip(step.Mounts, mount.KindCache)
			cp.Steps[j] = &sc
		}
		stages[i] = &cp
	}
	return &Plan{Pipeline: p.Pipeline, Target: p.Target, Stages: stages}
}
