package manifest

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/distribution/reference"

	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/mount"
)

var (
	stageNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	argNamePattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	packagePattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.+_:=~-]*$`)
)

// Fields each step kind accepts in addition to the scoped modifiers.
var stepFields = map[StepKind][]string{
	StepRun:      {"run", "mount"},
	StepCopy:     {"src", "dest", "from"},
	StepInstall:  {"manager", "packages", "mount"},
	StepCompile:  {"setup", "command", "output", "artifact", "strip", "mount"},
	StepArtifact: {"from", "dest"},
	StepEnv:      {},
	StepWorkdir:  {},
	StepShell:    {},
}

// Checks the pipeline for structural errors.
//
// Stage names are unique, the target names a stage, the tag is a valid image
// reference, and every step carries exactly the fields its kind uses. Secret
// ids must be declared by at most one step across all stages. References
// between stages are checked when the stage graph is resolved.
func (p *Pipeline) Validate() error {
	if len(p.Stages) == 0 {
		return crex.Wrapf(ErrManifest, "no stages declared")
	}

	if _, err := reference.ParseNormalizedNamed(p.Tag); err != nil {
		return crex.Wrapf(ErrManifest, "tag %q: %w", p.Tag, err)
	}

	for name := range p.Args {
		if !argNamePattern.MatchString(name) {
			return crex.Wrapf(ErrManifest, "build arg name %q is invalid", name)
		}
	}

	names := make(map[string]bool, len(p.Stages))
	var uses []mount.Use
	for _, s := range p.Stages {
		if names[s.Name] {
			return crex.Wrapf(ErrManifest, "stage %q declared twice", s.Name)
		}
		names[s.Name] = true

		if err := s.validate(); err != nil {
			return err
		}
		uses = append(uses, s.Uses()...)
	}

	if !names[p.Target] {
		return crex.Wrapf(ErrManifest, "target %q is not a stage", p.Target)
	}

	if err := mount.CheckScope(uses, func(string) bool { return true }); err != nil {
		return crex.Wrap(ErrManifest, err)
	}

	if c := p.Credentials; c != nil {
		if err := (mount.Mount{Kind: mount.KindSecret, ID: c.TokenID}).Validate(); err != nil {
			return crex.Wrapf(ErrManifest, "credentials: %w", err)
		}
	}

	return nil
}

func (s *Stage) validate() error {
	if !stageNamePattern.MatchString(s.Name) {
		return crex.Wrapf(ErrManifest, "stage name %q is invalid", s.Name)
	}
	if s.From == "" {
		return crex.Wrapf(ErrManifest, "stage %q has no base", s.Name)
	}
	if s.From == s.Name {
		return crex.Wrapf(ErrManifest, "stage %q derives from itself", s.Name)
	}
	if s.Workdir != "" && !path.IsAbs(s.Workdir) {
		return crex.Wrapf(ErrManifest, "stage %q: workdir %q is not absolute", s.Name, s.Workdir)
	}
	for _, a := range s.Args {
		if !argNamePattern.MatchString(a) {
			return crex.Wrapf(ErrManifest, "stage %q: build arg name %q is invalid", s.Name, a)
		}
	}

	compiles := 0
	for i, step := range s.Steps {
		if err := step.validate(); err != nil {
			return crex.Wrapf(ErrManifest, "%s: %w", s.StepLabel(i), err)
		}
		if step.From == s.Name {
			return crex.Wrapf(ErrManifest, "%s: stage reads from itself", s.StepLabel(i))
		}
		if step.Kind == StepCompile {
			compiles++
		}
	}
	if compiles > 1 {
		return crex.Wrapf(ErrManifest, "stage %q declares %d compile steps, at most one is allowed", s.Name, compiles)
	}

	return nil
}

func (s *Step) validate() error {
	allowed, ok := stepFields[s.Kind]
	if !ok {
		return crex.Wrapf(ErrManifest, "unknown step kind %q", s.Kind)
	}
	if extra := s.extraneous(allowed); len(extra) > 0 {
		return crex.Wrapf(ErrManifest, "%s step does not accept %s", s.Kind, strings.Join(extra, ", "))
	}

	switch s.Kind {
	case StepRun:
		if strings.TrimSpace(s.Run) == "" {
			return crex.Wrapf(ErrManifest, "run step has no command")
		}

	case StepCopy:
		if len(s.Sources) == 0 || s.Dest == "" {
			return crex.Wrapf(ErrManifest, "copy step requires src and dest")
		}

	case StepInstall:
		if s.Manager != ManagerApt && s.Manager != ManagerApk {
			return crex.Wrapf(ErrManifest, "unknown package manager %q", s.Manager)
		}
		if len(s.Packages) == 0 {
			return crex.Wrapf(ErrManifest, "install step lists no packages")
		}
		for _, pkg := range s.Packages {
			if !packagePattern.MatchString(pkg) {
				return crex.Wrapf(ErrManifest, "package name %q is invalid", pkg)
			}
		}

	case StepCompile:
		if strings.TrimSpace(s.Command) == "" || s.Output == "" || s.Artifact == "" {
			return crex.Wrapf(ErrManifest, "compile step requires command, output and artifact")
		}
		if !path.IsAbs(s.Artifact) {
			return crex.Wrapf(ErrManifest, "artifact %q is not absolute", s.Artifact)
		}
		if target, under := mount.UnderCache(s.Mounts, s.Artifact); under {
			return crex.Wrapf(ErrManifest, "artifact %q lies inside cache mount %s", s.Artifact, target)
		}

	case StepArtifact:
		if s.From == "" {
			return crex.Wrapf(ErrManifest, "artifact step requires from")
		}
		if s.Dest != "" && !path.IsAbs(s.Dest) {
			return crex.Wrapf(ErrManifest, "artifact destination %q is not absolute", s.Dest)
		}

	case StepEnv:
		if len(s.Env) == 0 {
			return crex.Wrapf(ErrManifest, "env step sets no variables")
		}

	case StepWorkdir:
		if !path.IsAbs(s.Workdir) {
			return crex.Wrapf(ErrManifest, "workdir %q is not absolute", s.Workdir)
		}

	case StepShell:
		if s.Shell == "" {
			return crex.Wrapf(ErrManifest, "shell step names no shell")
		}
	}

	if s.Workdir != "" && !path.IsAbs(s.Workdir) {
		return crex.Wrapf(ErrManifest, "workdir %q is not absolute", s.Workdir)
	}

	return mount.ValidateStep(s.Mounts)
}

// Returns the names of set fields the step kind does not accept, sorted.
func (s *Step) extraneous(allowed []string) []string {
	set := map[string]bool{
		"run":      s.Run != "",
		"src":      len(s.Sources) > 0,
		"dest":     s.Dest != "",
		"from":     s.From != "",
		"manager":  s.Manager != "",
		"packages": len(s.Packages) > 0,
		"setup":    len(s.Setup) > 0,
		"command":  s.Command != "",
		"output":   s.Output != "",
		"artifact": s.Artifact != "",
		"strip":    s.stripSet,
		"mount":    len(s.Mounts) > 0,
	}
	for _, f := range allowed {
		delete(set, f)
	}

	var extra []string
	for f, isSet := range set {
		if isSet {
			extra = append(extra, f)
		}
	}
	sort.Strings(extra)
	return extra
}
