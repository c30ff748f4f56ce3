package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	programName = "cruxship"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Permission mode for directories holding secret material.
	PrivateDirMode os.FileMode = 0700

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644

	// Permission mode for files holding secret material.
	PrivateFileMode os.FileMode = 0600
)

// Root directory for persistent cache mounts.
//
//	Linux:   $XDG_CACHE_HOME/cruxship/mounts
//	macOS:   ~/Library/Caches/cruxship/mounts
func CacheMounts() string {
	return filepath.Join(xdg.CacheHome, programName, "mounts")
}

// Path to the cache index database.
//
//	Linux:   $XDG_STATE_HOME/cruxship/cache.db
//	macOS:   ~/Library/Application Support/cruxship/cache.db
func CacheIndex() string {
	return filepath.Join(xdg.StateHome, programName, "cache.db")
}

// Directory for per-invocation scratch files (rendered Dockerfiles, image id
// files, exported archives).
//
//	Linux:   $XDG_RUNTIME_DIR/cruxship or $XDG_CACHE_HOME/cruxship/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, programName)
	}
	return filepath.Join(xdg.CacheHome, programName, "run")
}

// Default location of the registry token.
//
//	Linux:   $XDG_CONFIG_HOME/cruxship/registry-token
func RegistryToken() string {
	return filepath.Join(xdg.ConfigHome, programName, "registry-token")
}

// Default private key of the build identity.
func Identity() string {
	return filepath.Join(xdg.Home, ".ssh", "id_ed25519")
}

// Path to the user's OpenSSH client configuration.
func SSHConfig() string {
	return filepath.Join(xdg.Home, ".ssh", "config")
}

// Expands a leading "~" to the user's home directory.
func Expand(path string) string {
	if path == "~" {
		return xdg.Home
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		return filepath.Join(xdg.Home, rest)
	}
	return path
}
