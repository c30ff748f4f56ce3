package build

import (
	"slices"
	"testing"

	"github.com/cruciblehq/cruxship/internal/manifest"
)

func TestNewStepState(t *testing.T) {
	s := newStepState()
	if s.shell != defaultShell {
		t.Fatalf("shell = %q, want %q", s.shell, defaultShell)
	}
	if s.workdir != "" {
		t.Fatalf("workdir = %q, want empty", s.workdir)
	}
	if len(s.env) != 0 {
		t.Fatalf("env = %v, want empty", s.env)
	}
}

func TestApply(t *testing.T) {
	s := newStepState()

	s.apply(&manifest.Step{Kind: manifest.StepShell, Shell: "/bin/bash"})
	if s.shell != "/bin/bash" {
		t.Fatalf("shell = %q, want /bin/bash", s.shell)
	}

	s.apply(&manifest.Step{Kind: manifest.StepWorkdir, Workdir: "/app"})
	if s.workdir != "/app" {
		t.Fatalf("workdir = %q, want /app", s.workdir)
	}
	if s.shell != "/bin/bash" {
		t.Fatalf("shell changed to %q after workdir apply", s.shell)
	}

	s.apply(&manifest.Step{Kind: manifest.StepEnv, Env: map[string]string{"A": "1", "B": "2"}})
	if s.env["A"] != "1" || s.env["B"] != "2" {
		t.Fatalf("env = %v, want A=1 B=2", s.env)
	}

	s.apply(&manifest.Step{Kind: manifest.StepEnv, Env: map[string]string{"A": "override"}})
	if s.env["A"] != "override" {
		t.Fatalf("env[A] = %q, want override", s.env["A"])
	}
	if s.env["B"] != "2" {
		t.Fatalf("env[B] = %q, want 2 (preserved)", s.env["B"])
	}
}

func TestApplyStage(t *testing.T) {
	s := newStepState()
	s.applyStage(&manifest.Stage{Name: "build", Workdir: "/src", Env: map[string]string{"CARGO_HOME": "/cargo"}}, nil)

	if s.shell != defaultShell {
		t.Fatalf("shell = %q, want %q", s.shell, defaultShell)
	}
	if s.workdir != "/src" {
		t.Fatalf("workdir = %q, want /src", s.workdir)
	}
	if s.env["CARGO_HOME"] != "/cargo" {
		t.Fatalf("env = %v", s.env)
	}
}

func TestApplyStageArgs(t *testing.T) {
	s := newStepState()
	s.applyStage(&manifest.Stage{Name: "base"}, []manifest.Arg{{Name: "MIRROR", Value: "http://mirror", Set: true}})

	child := s.clone()
	child.applyStage(&manifest.Stage{Name: "builder", Env: map[string]string{"RUSTFLAGS": "-Dwarnings"}}, []manifest.Arg{
		{Name: "PROFILE", Value: "release", Set: true},
		{Name: "RUSTFLAGS", Value: "-O", Set: true},
		{Name: "FEATURES"},
	})

	want := []string{"PROFILE=release", "RUSTFLAGS=-Dwarnings"}
	if got := child.processEnv(); !slices.Equal(got, want) {
		t.Fatalf("processEnv() = %v, want %v", got, want)
	}
	if got := child.environ(); !slices.Equal(got, []string{"RUSTFLAGS=-Dwarnings"}) {
		t.Fatalf("environ() = %v, build args must stay out of the image", got)
	}
	if got := s.processEnv(); !slices.Equal(got, []string{"MIRROR=http://mirror"}) {
		t.Fatalf("base processEnv() = %v", got)
	}
}

func TestResolve(t *testing.T) {
	s := newStepState()
	s.apply(&manifest.Step{
		Shell:   "/bin/bash",
		Workdir: "/app",
		Env:     map[string]string{"A": "1"},
	})

	resolved := s.resolve(&manifest.Step{
		Kind:    manifest.StepRun,
		Shell:   "/bin/zsh",
		Workdir: "/tmp",
		Env:     map[string]string{"B": "2"},
	})

	if resolved.shell != "/bin/zsh" {
		t.Fatalf("resolved.shell = %q, want /bin/zsh", resolved.shell)
	}
	if resolved.workdir != "/tmp" {
		t.Fatalf("resolved.workdir = %q, want /tmp", resolved.workdir)
	}
	if resolved.env["A"] != "1" || resolved.env["B"] != "2" {
		t.Fatalf("resolved.env = %v, want A=1 B=2", resolved.env)
	}

	// Original state is unchanged.
	if s.shell != "/bin/bash" {
		t.Fatalf("original shell mutated to %q", s.shell)
	}
	if s.workdir != "/app" {
		t.Fatalf("original workdir mutated to %q", s.workdir)
	}
	if _, ok := s.env["B"]; ok {
		t.Fatal("original env mutated: B leaked in")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	base := newStepState()
	base.apply(&manifest.Step{Env: map[string]string{"K": "base"}})

	derived := base.clone()
	derived.apply(&manifest.Step{Workdir: "/srv", Env: map[string]string{"K": "derived"}})

	if base.env["K"] != "base" || base.workdir != "" {
		t.Fatalf("base mutated: %+v", base)
	}
	if derived.env["K"] != "derived" || derived.workdir != "/srv" {
		t.Fatalf("derived = %+v", derived)
	}
}

func TestEnvironSorted(t *testing.T) {
	s := newStepState()
	if len(s.environ()) != 0 {
		t.Fatal("empty state should produce no environ entries")
	}

	s.apply(&manifest.Step{Env: map[string]string{"PATH": "/usr/bin", "HOME": "/root"}})
	want := []string{"HOME=/root", "PATH=/usr/bin"}
	if got := s.environ(); !slices.Equal(got, want) {
		t.Fatalf("environ = %v, want %v", got, want)
	}
}

func TestArgv(t *testing.T) {
	s := newStepState()
	if got := s.argv(); !slices.Equal(got, []string{"/bin/sh", "-c"}) {
		t.Fatalf("argv = %v", got)
	}
}
