package manifest

import (
	"fmt"
	"path"
	"sort"

	"github.com/cruciblehq/cruxship/internal/mount"
)

const (

	// Pipeline file looked up when none is given.
	DefaultFile = "cruxship.hcl"

	// Command run after a successful build when none is configured.
	DefaultDeployCommand = "flyctl deploy --local-only"

	// Secret id of the registry token when none is configured.
	DefaultTokenID = "registry-token"

	// Directory receiving an artifact when the step gives no destination.
	DefaultArtifactDir = "/app"
)

// Kind of a build step.
type StepKind string

const (
	StepRun      StepKind = "run"      // Shell command.
	StepCopy     StepKind = "copy"     // Build context or stage files.
	StepInstall  StepKind = "install"  // Package install with metadata cleanup.
	StepCompile  StepKind = "compile"  // Produces the stage's artifact.
	StepArtifact StepKind = "artifact" // Copies another stage's artifact.
	StepEnv      StepKind = "env"      // Persistent environment modifier.
	StepWorkdir  StepKind = "workdir"  // Persistent working directory modifier.
	StepShell    StepKind = "shell"    // Persistent shell modifier.
)

// Package manager used by install steps.
type PackageManager string

const (
	ManagerApt PackageManager = "apt"
	ManagerApk PackageManager = "apk"
)

// Parsed pipeline file.
type Pipeline struct {
	Target      string            // Stage whose filesystem becomes the image.
	Tag         string            // Reference applied to the image after verification.
	Squash      bool              // Collapse the target's layers into one.
	Context     string            // Absolute build context directory.
	Args        map[string]string // Build-time values, visible only to stages declaring them.
	Labels      map[string]string // Image labels.
	Stages      []*Stage          // Stages in declaration order.
	Credentials *Credentials      // Nil when the build consumes no credentials.
	Deploy      Deploy            // Command run after a successful build.
	File        string            // Path of the pipeline file.
}

// Named build environment derived from an image or another stage.
type Stage struct {
	Name    string
	From    string            // Image reference or name of another stage.
	Workdir string            // Initial working directory.
	Shell   string            // Initial shell.
	Env     map[string]string // Initial environment.
	Cmd     []string          // Runtime action of the image built from this stage.
	Args    []string          // Build args this stage may read.
	Steps   []*Step
}

// One instruction of a stage.
type Step struct {
	Kind StepKind

	Run string // run

	Sources []string // copy
	Dest    string   // copy, artifact
	From    string   // copy, artifact: source stage

	Manager  PackageManager // install
	Packages []string       // install

	Setup    []string // compile: toolchain setup commands
	Command  string   // compile: build command
	Output   string   // compile: path the build command produces
	Artifact string   // compile: absolute path of the finished artifact
	Strip    bool     // compile: compress debug sections while copying

	stripSet bool // strip given explicitly

	Shell   string            // Modifier: shell.
	Workdir string            // Modifier: working directory.
	Env     map[string]string // Modifier: environment.

	Mounts []mount.Mount // Instruction-scoped mounts.
}

// Credentials consumed by the build.
type Credentials struct {
	Identity   string   // Private key path; the public key is Identity + ".pub".
	TokenFile  string   // Registry token path.
	TokenID    string   // Secret id the token is bound to.
	KnownHosts []string // Hosts whose keys are scanned into the trust store.
}

// External deployment command.
type Deploy struct {
	Command string // Command line, split with shell quoting rules.
	Dir     string // Working directory.
}

// Returns the stage with the given name.
func (p *Pipeline) Stage(name string) (*Stage, bool) {
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Whether ref names a stage rather than an image.
func (p *Pipeline) IsStage(ref string) bool {
	_, ok := p.Stage(ref)
	return ok
}

// Sets a build arg, overriding the file's value.
func (p *Pipeline) SetArg(name, value string) {
	if p.Args == nil {
		p.Args = make(map[string]string)
	}
	p.Args[name] = value
}

// Returns the build args visible to a stage, sorted by name.
//
// Only the args the stage declares are returned; values are never
// propagated to stages that do not ask for them.
func (p *Pipeline) StageArgs(s *Stage) []Arg {
	args := make([]Arg, 0, len(s.Args))
	for _, name := range s.Args {
		v, ok := p.Args[name]
		args = append(args, Arg{Name: name, Value: v, Set: ok})
	}
	sort.Slice(args, func(i, j int) bool { return args[i].Name < args[j].Name })
	return args
}

// Build-time value as seen by one stage.
type Arg struct {
	Name  string
	Value string
	Set   bool // False when the stage declares the arg but no value is supplied.
}

// Returns the artifact the stage's compile step produces, or "" when the
// stage has none.
func (s *Stage) Artifact() string {
	for _, step := range s.Steps {
		if step.Kind == StepCompile {
			return step.Artifact
		}
	}
	return ""
}

// Returns the stages this stage reads files from through copy or artifact
// steps, in first-use order.
func (s *Stage) Sources() []string {
	var names []string
	seen := make(map[string]bool)
	for _, step := range s.Steps {
		if step.From == "" || seen[step.From] {
			continue
		}
		if step.Kind == StepCopy || step.Kind == StepArtifact {
			seen[step.From] = true
			names = append(names, step.From)
		}
	}
	return names
}

// Returns the mounts declared by each step of the stage.
func (s *Stage) Uses() []mount.Use {
	var uses []mount.Use
	for i, step := range s.Steps {
		if len(step.Mounts) == 0 {
			continue
		}
		uses = append(uses, mount.Use{Step: s.StepLabel(i), Mounts: step.Mounts})
	}
	return uses
}

// Returns a human-readable location for the step at index i.
func (s *Stage) StepLabel(i int) string {
	return fmt.Sprintf("stage %q step %d (%s)", s.Name, i+1, s.Steps[i].Kind)
}

// Whether the step executes a command in the stage.
func (s *Step) Executes() bool {
	switch s.Kind {
	case StepRun, StepInstall, StepCompile:
		return true
	}
	return false
}

// Whether the step only modifies the step state.
func (s *Step) Modifier() bool {
	switch s.Kind {
	case StepEnv, StepWorkdir, StepShell:
		return true
	}
	return false
}

// Returns the destination of an artifact step.
//
// A destination ending in "/" or left empty names a directory that receives
// the artifact under its own file name.
func (s *Step) ArtifactDest(artifact string) string {
	dest := s.Dest
	if dest == "" {
		dest = DefaultArtifactDir + "/"
	}
	if dest[len(dest)-1] == '/' {
		return path.Join(dest, path.Base(artifact))
	}
	return dest
}
