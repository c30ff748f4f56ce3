package build

import (
	"maps"
	"slices"

	"github.com/cruciblehq/cruxship/internal/manifest"
)

// Default shell used for executing steps when no shell modifier has been set.
const defaultShell = "/bin/sh"

// Tracks accumulated modifiers during step execution.
//
// State flows linearly through the step list. Modifier steps update the
// state permanently via apply. Executing steps read the effective values
// for a single step via resolve without modifying the persistent state.
type stepState struct {
	shell   string
	workdir string
	env     map[string]string
	args    map[string]string // Build args of the current stage. Never recorded in images.
}

// Creates a new [stepState] with default values.
func newStepState() *stepState {
	return &stepState{
		shell: defaultShell,
		env:   make(map[string]string),
	}
}

// Returns an independent copy of the state.
func (s *stepState) clone() *stepState {
	env := make(map[string]string, len(s.env))
	maps.Copy(env, s.env)
	return &stepState{shell: s.shell, workdir: s.workdir, env: env, args: maps.Clone(s.args)}
}

// Persists a stage's initial shell, working directory and environment, and
// replaces the build args with the ones the stage declares and has a value
// for. Args of a base stage are not inherited.
func (s *stepState) applyStage(stage *manifest.Stage, args []manifest.Arg) {
	s.apply(&manifest.Step{Shell: stage.Shell, Workdir: stage.Workdir, Env: stage.Env})

	s.args = make(map[string]string, len(args))
	for _, a := range args {
		if a.Set {
			s.args[a.Name] = a.Value
		}
	}
}

// Persists modifier fields from a step into the state.
//
// The state is mutated permanently, affecting all subsequent steps.
func (s *stepState) apply(step *manifest.Step) {
	if step.Shell != "" {
		s.shell = step.Shell
	}
	if step.Workdir != "" {
		s.workdir = step.Workdir
	}
	maps.Copy(s.env, step.Env)
}

// Returns a new [stepState] with step-level modifiers overlaid on the
// persistent state. The receiver is not modified.
func (s *stepState) resolve(step *manifest.Step) *stepState {
	resolved := s.clone()
	resolved.apply(step)
	return resolved
}

// Returns the shell argv for the state's shell.
func (s *stepState) argv() []string {
	return manifest.ShellArgv(s.shell)
}

// Formats the environment of a step's process: build args, then the
// environment, sorted by key. An environment variable shadows a build arg
// of the same name.
func (s *stepState) processEnv() []string {
	env := make([]string, 0, len(s.args)+len(s.env))
	for _, k := range slices.Sorted(maps.Keys(s.args)) {
		if _, shadowed := s.env[k]; !shadowed {
			env = append(env, k+"="+s.args[k])
		}
	}
	return append(env, s.environ()...)
}

// Formats the environment as "key=value" strings sorted by key.
func (s *stepState) environ() []string {
	env := make([]string, 0, len(s.env))
	for _, k := range slices.Sorted(maps.Keys(s.env)) {
		env = append(env, k+"="+s.env[k])
	}
	return env
}
