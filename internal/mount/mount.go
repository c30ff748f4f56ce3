package mount

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/opencontainers/go-digest"
	"github.com/samber/lo"
)

// Kind of resource a mount exposes.
type Kind string

const (
	KindCache  Kind = "cache"
	KindSecret Kind = "secret"
	KindSSH    Kind = "ssh"
)

// Concurrency policy for a cache mount shared by simultaneous builds.
type Sharing string

const (
	SharingShared  Sharing = "shared"
	SharingPrivate Sharing = "private"
	SharingLocked  Sharing = "locked"
)

const (

	// Directory under which secrets appear when no target is given.
	secretDir = "/run/secrets"

	// Socket path of the forwarded agent when no target is given.
	DefaultSSHSocket = "/run/buildkit/ssh_agent.0"

	// Environment variable pointing at the forwarded agent socket.
	SSHAuthSockEnv = "SSH_AUTH_SOCK"

	// Mode of a materialized secret file when none is requested.
	defaultSecretMode os.FileMode = 0400

	// Prefix of derived cache identities.
	cacheKeyPrefix = "cruxship-"
)

var (
	idPattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	envPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Declaration attached to one build instruction.
type Mount struct {
	Kind     Kind        // Resource kind.
	ID       string      // Secret or agent id; explicit cache identity.
	Target   string      // Absolute path inside the instruction's filesystem.
	Env      string      // Secret only: expose the content as this variable instead of a file.
	Mode     os.FileMode // Secret only: file mode of the materialized file.
	Required bool        // Secret or ssh: fail when no value is bound.
	Sharing  Sharing     // Cache only: concurrency policy. Defaults to locked.
}

// Checks the mount in isolation.
func (m Mount) Validate() error {
	if m.Target != "" && !path.IsAbs(m.Target) {
		return crex.Wrapf(ErrMount, "%s mount target %q is not absolute", m.Kind, m.Target)
	}

	switch m.Kind {
	case KindCache:
		if m.Target == "" {
			return crex.Wrapf(ErrMount, "cache mount requires a target")
		}
		if m.Env != "" || m.Mode != 0 {
			return crex.Wrapf(ErrMount, "cache mount %s accepts neither env nor mode", m.Target)
		}
		switch m.Sharing {
		case "", SharingShared, SharingPrivate, SharingLocked:
		default:
			return crex.Wrapf(ErrMount, "cache mount %s: unknown sharing %q", m.Target, m.Sharing)
		}

	case KindSecret:
		if !idPattern.MatchString(m.ID) {
			return crex.Wrapf(ErrMount, "secret mount id %q is invalid", m.ID)
		}
		if m.Env != "" && !envPattern.MatchString(m.Env) {
			return crex.Wrapf(ErrMount, "secret %s: env %q is not a variable name", m.ID, m.Env)
		}
		if m.Env != "" && m.Target != "" {
			return crex.Wrapf(ErrMount, "secret %s: env and target are exclusive", m.ID)
		}
		if m.Mode&^0777 != 0 {
			return crex.Wrapf(ErrMount, "secret %s: mode %o out of range", m.ID, m.Mode)
		}

	case KindSSH:
		if m.ID != "" && !idPattern.MatchString(m.ID) {
			return crex.Wrapf(ErrMount, "ssh mount id %q is invalid", m.ID)
		}
		if m.Env != "" || m.Mode != 0 || m.Sharing != "" {
			return crex.Wrapf(ErrMount, "ssh mount accepts neither env, mode nor sharing")
		}

	default:
		return crex.Wrapf(ErrMount, "unknown mount type %q", m.Kind)
	}

	return nil
}

// Returns the path at which the mount appears inside the instruction.
//
// Env-only secrets have no path and return "".
func (m Mount) Path() string {
	if m.Target != "" {
		return m.Target
	}
	switch m.Kind {
	case KindSecret:
		if m.Env != "" {
			return ""
		}
		return path.Join(secretDir, m.ID)
	case KindSSH:
		return DefaultSSHSocket
	}
	return ""
}

// Returns the file mode of a materialized secret.
func (m Mount) FileMode() os.FileMode {
	if m.Mode == 0 {
		return defaultSecretMode
	}
	return m.Mode
}

// Returns the stable identity of a cache mount.
//
// An explicit ID is used as the identity seed, otherwise the target path is.
// The seed is digested so the key is safe as a directory name and as a
// BuildKit cache id regardless of the characters it contains.
func (m Mount) CacheKey() string {
	seed := m.ID
	if seed == "" {
		seed = path.Clean(m.Target)
	}
	return cacheKeyPrefix + digest.FromString(seed).Encoded()[:16]
}

// Returns the cache sharing policy, defaulting to locked so concurrent
// builds touching the same cache are serialized.
func (m Mount) SharingMode() Sharing {
	if m.Sharing == "" {
		return SharingLocked
	}
	return m.Sharing
}

// Checks the mounts attached to one instruction: each mount is valid, at
// most one agent is forwarded, and no two mounts share a path.
func ValidateStep(mounts []Mount) error {
	seen := make(map[string]Kind, len(mounts))
	ssh := 0

	for _, m := range mounts {
		if err := m.Validate(); err != nil {
			return err
		}
		if m.Kind == KindSSH {
			ssh++
		}
		p := m.Path()
		if p == "" {
			continue
		}
		if other, dup := seen[p]; dup {
			return crex.Wrapf(ErrMount, "%s and %s mounts both target %s", other, m.Kind, p)
		}
		seen[p] = m.Kind
	}

	if ssh > 1 {
		return crex.Wrapf(ErrMount, "at most one ssh mount per instruction, got %d", ssh)
	}
	return nil
}

// Returns the mounts without those of the given kind.
func Strip(mounts []Mount, kind Kind) []Mount {
	return lo.Filter(mounts, func(m Mount, _ int) bool { return m.Kind != kind })
}

// Returns the mounts of the given kind.
func OfKind(mounts []Mount, kind Kind) []Mount {
	return lo.Filter(mounts, func(m Mount, _ int) bool { return m.Kind == kind })
}

// Whether p lies at or below one of the cache mount targets.
func UnderCache(mounts []Mount, p string) (string, bool) {
	p = path.Clean(p)
	for _, m := range OfKind(mounts, KindCache) {
		t := path.Clean(m.Target)
		if p == t || strings.HasPrefix(p, t+"/") {
			return t, true
		}
	}
	return "", false
}

// Renders the mount as a BuildKit RUN flag.
func (m Mount) Flag() string {
	opts := []string{"type=" + string(m.Kind)}

	switch m.Kind {
	case KindCache:
		opts = append(opts,
			"id="+m.CacheKey(),
			"target="+m.Target,
			"sharing="+string(m.SharingMode()),
		)
	case KindSecret:
		opts = append(opts, "id="+m.ID)
		if m.Env != "" {
			opts = append(opts, "env="+m.Env)
		} else {
			opts = append(opts, "target="+m.Path())
		}
		if m.Mode != 0 {
			opts = append(opts, fmt.Sprintf("mode=%04o", m.Mode))
		}
		if m.Required {
			opts = append(opts, "required=true")
		}
	case KindSSH:
		if m.ID != "" {
			opts = append(opts, "id="+m.ID)
		}
		if m.Target != "" {
			opts = append(opts, "target="+m.Target)
		}
		if m.Required {
			opts = append(opts, "required=true")
		}
	}

	return "--mount=" + strings.Join(opts, ",")
}
