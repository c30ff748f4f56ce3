package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/cruciblehq/cruxship/internal"
)

// Level shared by every logger this package creates, so reconfiguring it
// affects records logged through handlers already installed.
var level slog.LevelVar

// Creates the logger used before flags are parsed, seeded from build-time
// linker flags.
//
// The logger is reconfigured after flag parsing via [Execute].
func NewLogger() *slog.Logger {
	level.Set(logLevel(internal.IsQuiet(), internal.IsDebug()))
	return slog.New(newHandler(os.Stderr, terminal(os.Stderr), internal.IsVerbose()))
}

// Applies the output flags on top of the build-time defaults and installs
// the resulting logger.
func configureLogger(quiet, verbose, debug bool) {
	internal.SetQuiet(quiet || internal.IsQuiet())
	internal.SetVerbose(verbose || internal.IsVerbose())
	internal.SetDebug(debug || internal.IsDebug())

	level.Set(logLevel(internal.IsQuiet(), internal.IsDebug()))
	slog.SetDefault(slog.New(newHandler(os.Stderr, terminal(os.Stderr), internal.IsVerbose())))
}

// Returns the log level for the output modes. Debug wins over quiet.
func logLevel(quiet, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	if quiet {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Creates a text handler for terminals and a JSON handler otherwise.
//
// Verbose output adds the source location of each record. JSON records are
// grouped under the program name.
func newHandler(w io.Writer, tty, verbose bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: &level, AddSource: verbose}
	if tty {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts).WithGroup(internal.Name)
}

// Whether f is an interactive terminal.
func terminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Returns where build output goes: stderr, or nowhere in quiet mode.
func buildOutput() io.Writer {
	if internal.IsQuiet() {
		return nil
	}
	return os.Stderr
}
