package internal

import (
	"strconv"
	"sync/atomic"
)

var (
	quietMode   atomic.Bool // Only warnings and errors are logged.
	debugMode   atomic.Bool // Debug records are logged.
	verboseMode atomic.Bool // Records carry source and timestamp detail.
)

// Seeds the output modes from the ldflags defaults. Values that do not parse
// as booleans leave the mode disabled.
func init() {
	seed := []struct {
		raw  string
		mode *atomic.Bool
	}{
		{rawQuiet, &quietMode},
		{rawDebug, &debugMode},
		{rawVerbose, &verboseMode},
	}
	for _, s := range seed {
		if v, err := strconv.ParseBool(s.raw); err == nil {
			s.mode.Store(v)
		}
	}
}

// Enables or disables quiet mode.
func SetQuiet(enabled bool) { quietMode.Store(enabled) }

// Whether quiet mode is enabled.
func IsQuiet() bool { return quietMode.Load() }

// Enables or disables debug mode.
func SetDebug(enabled bool) { debugMode.Store(enabled) }

// Whether debug mode is enabled.
func IsDebug() bool { return debugMode.Load() }

// Enables or disables verbose mode.
func SetVerbose(enabled bool) { verboseMode.Store(enabled) }

// Whether verbose mode is enabled.
func IsVerbose() bool { return verboseMode.Load() }
