package manifest

import (
	"path"
	"strings"
)

// Returns the shell script an executing step runs.
//
// Install steps render package installation and metadata cleanup as one
// script so both land in the same layer. Compile steps run toolchain setup,
// the build command, and the artifact copy in one script. Multi-line run and
// compile scripts stop at the first failing command. Other kinds return "".
func (s *Step) Script() string {
	switch s.Kind {
	case StepRun:
		return Errexit(s.Run)
	case StepInstall:
		return s.installScript()
	case StepCompile:
		return s.compileScript()
	}
	return ""
}

func (s *Step) installScript() string {
	pkgs := strings.Join(s.Packages, " ")

	switch s.Manager {
	case ManagerApk:
		return "apk add --no-cache " + pkgs
	default:
		return "apt-get update" +
			" && DEBIAN_FRONTEND=noninteractive apt-get install -y --no-install-recommends " + pkgs +
			" && apt-get clean" +
			" && rm -rf /var/lib/apt/lists/*"
	}
}

func (s *Step) compileScript() string {
	lines := []string{"set -eu"}
	lines = append(lines, s.Setup...)
	lines = append(lines, s.Command)

	lines = append(lines, "mkdir -p "+quote(path.Dir(s.Artifact)))
	if s.Strip {
		lines = append(lines, "objcopy --compress-debug-sections "+quote(s.Output)+" "+quote(s.Artifact))
	} else {
		lines = append(lines, "cp "+quote(s.Output)+" "+quote(s.Artifact))
	}

	return strings.Join(lines, "\n")
}

// Prefixes a multi-line script with "set -e" unless it already begins with
// an errexit line. Single-line scripts are returned unchanged.
func Errexit(script string) string {
	if !strings.Contains(script, "\n") || strings.HasPrefix(script, "set -e") {
		return script
	}
	return "set -e\n" + script
}

// Splits a shell modifier such as "/bin/bash -c" into argv, adding "-c" when
// the shell is given bare.
func ShellArgv(shell string) []string {
	argv := strings.Fields(shell)
	if len(argv) == 1 {
		argv = append(argv, "-c")
	}
	return argv
}

// Quotes a word for a POSIX shell. Words made only of safe characters are
// returned unchanged.
func quote(s string) string {
	if s != "" && strings.Trim(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789/._-+=:@%") == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

