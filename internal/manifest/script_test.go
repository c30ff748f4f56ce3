package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstallScriptIsOneTransaction(t *testing.T) {
	apt := &Step{Kind: StepInstall, Manager: ManagerApt, Packages: []string{"ca-certificates"}}
	assert.Equal(t,
		"apt-get update"+
			" && DEBIAN_FRONTEND=noninteractive apt-get install -y --no-install-recommends ca-certificates"+
			" && apt-get clean"+
			" && rm -rf /var/lib/apt/lists/*",
		apt.Script())

	apk := &Step{Kind: StepInstall, Manager: ManagerApk, Packages: []string{"ca-certificates", "tzdata"}}
	assert.Equal(t, "apk add --no-cache ca-certificates tzdata", apk.Script())
}

func TestCompileScript(t *testing.T) {
	s := &Step{
		Kind:     StepCompile,
		Setup:    []string{"rustup toolchain install stable"},
		Command:  "cargo build --release",
		Output:   "target/release/catscii",
		Artifact: "/out/catscii",
		Strip:    true,
	}
	assert.Equal(t, "set -eu\n"+
		"rustup toolchain install stable\n"+
		"cargo build --release\n"+
		"mkdir -p /out\n"+
		"objcopy --compress-debug-sections target/release/catscii /out/catscii",
		s.Script())

	s.Strip = false
	s.Output = "build/my app"
	assert.Contains(t, s.Script(), "cp 'build/my app' /out/catscii")
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain/path", "plain/path"},
		{"", "''"},
		{"with space", "'with space'"},
		{"it's", `'it'\''s'`},
	}
	for _, tt := range tests {
		if got := quote(tt.in); got != tt.want {
			t.Errorf("quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScriptOfNonExecutingSteps(t *testing.T) {
	for _, k := range []StepKind{StepCopy, StepArtifact, StepEnv, StepWorkdir, StepShell} {
		s := &Step{Kind: k}
		assert.Empty(t, s.Script(), "kind %s", k)
		assert.False(t, s.Executes(), "kind %s", k)
	}
}

func TestShellArgv(t *testing.T) {
	assert.Equal(t, []string{"/bin/bash", "-c"}, ShellArgv("/bin/bash"))
	assert.Equal(t, []string{"/bin/bash", "-euo", "pipefail", "-c"}, ShellArgv("/bin/bash -euo pipefail -c"))
}

func TestRunScriptStopsOnFailure(t *testing.T) {
	single := &Step{Kind: StepRun, Run: "make"}
	assert.Equal(t, "make", single.Script())

	multi := &Step{Kind: StepRun, Run: "false\necho unreachable"}
	assert.Equal(t, "set -e\nfalse\necho unreachable", multi.Script())

	strict := &Step{Kind: StepRun, Run: "set -eu\nmake"}
	assert.Equal(t, "set -eu\nmake", strict.Script())
}
