package internal

import (
	"fmt"
	"runtime"
	"strings"
)

const (

	// Program name, used for the logger group, XDG subdirectories and the
	// containerd namespace default.
	Name = "cruxship"

	// Placeholder for a variable the pipeline did not inject.
	defaultUndefined = "(undefined)"

	// Version string reported by builds made outside the release pipeline.
	defaultLocalBuild = "(local)"

	// Branch whose builds carry no stage suffix in the version string.
	mainBranch = "main"
)

// Injected with -ldflags "-X github.com/cruciblehq/cruxship/internal.<name>=...".
var (
	version   = "" // Release version (e.g., "0.4.1").
	stage     = "" // Branch the release was cut from (e.g., "main", "next").
	gitCommit = "" // Commit the binary was built from.

	rawQuiet   = "false" // Default for --quiet.
	rawDebug   = "false" // Default for --debug.
	rawVerbose = "false" // Default for --verbose.
)

// Returns the release version without a leading "v", or "(undefined)".
func Version() string {
	v := strings.ToLower(strings.TrimSpace(version))
	if v == "" {
		return defaultUndefined
	}
	return strings.TrimPrefix(v, "v")
}

// Returns the lower-cased release branch, or "(undefined)".
func Stage() string {
	s := strings.TrimSpace(stage)
	if s == "" {
		return defaultUndefined
	}
	return strings.ToLower(s)
}

// Returns the commit hash, or "(undefined)".
func GitCommit() string {
	c := strings.TrimSpace(gitCommit)
	if c == "" {
		return defaultUndefined
	}
	return c
}

// Returns the architecture the binary was compiled for.
func Arch() string {
	return runtime.GOARCH
}

// Whether the binary was built outside the release pipeline, i.e. any of
// version, commit or stage is missing.
func IsLocal() bool {
	return strings.TrimSpace(version) == "" ||
		strings.TrimSpace(gitCommit) == "" ||
		strings.TrimSpace(stage) == ""
}

// Returns "<version>[+<stage>] <commit> [<arch>]", or "(local)" for local
// builds. The stage suffix is omitted for the main branch.
func VersionString() string {
	if IsLocal() {
		return defaultLocalBuild
	}

	suffix := ""
	if s := Stage(); s != mainBranch {
		suffix = "+" + s
	}

	return fmt.Sprintf("%s%s %s [%s]", Version(), suffix, GitCommit(), Arch())
}
