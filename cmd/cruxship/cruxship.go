package main

import (
	"log/slog"
	"os"

	"github.com/cruciblehq/cruxship/internal"
	"github.com/cruciblehq/cruxship/internal/cli"
	"github.com/cruciblehq/cruxship/internal/command"
)

// The entry point for cruxship.
//
// Initializes logging, displays startup information, and executes the root
// command. A failed deployment command's exit code becomes the process's;
// any other error exits with 1.
func main() {
	slog.SetDefault(cli.NewLogger())

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("cruxship is running",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	if err := cli.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(command.ExitCode(err))
	}
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
