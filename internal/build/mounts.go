package build

import (
	"context"
	"log/slog"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/mount"
)

// Resolves a step's mounts into bind mounts and environment entries.
//
// Cache mounts are dropped when no store is configured. Secret and ssh
// mounts without a bound value are skipped unless required. Env-style
// secrets become environment entries of the step's process only.
func (e *executor) resolveMounts(ctx context.Context, mounts []mount.Mount) ([]specs.Mount, []string, error) {
	var binds []specs.Mount
	var env []string

	for _, m := range mounts {
		switch m.Kind {
		case mount.KindCache:
			if e.opts.Cache == nil {
				continue
			}
			dir, err := e.opts.Cache.Acquire(ctx, m)
			if err != nil {
				return nil, nil, err
			}
			binds = append(binds, m.Spec(dir))

		case mount.KindSecret:
			if e.opts.Secrets == nil || !e.opts.Secrets.Has(m.ID) {
				if m.Required {
					return nil, nil, crex.Wrapf(mount.ErrUnbound, "secret %q", m.ID)
				}
				slog.Debug("optional secret not bound", "id", m.ID)
				continue
			}
			if m.Env != "" {
				value, err := e.opts.Secrets.Value(m.ID)
				if err != nil {
					return nil, nil, err
				}
				env = append(env, m.Env+"="+string(value))
				continue
			}
			src, err := e.opts.Secrets.File(m.ID, m.FileMode())
			if err != nil {
				return nil, nil, err
			}
			binds = append(binds, m.Spec(src))

		case mount.KindSSH:
			fwd := e.opts.SSH
			if fwd == nil || (m.ID != "" && m.ID != fwd.Name()) {
				if m.Required {
					return nil, nil, crex.Wrapf(mount.ErrUnbound, "ssh agent %q", m.ID)
				}
				continue
			}
			binds = append(binds, m.Spec(fwd.Socket))
			env = append(env, mount.SSHAuthSockEnv+"="+m.Path())
		}
	}

	return binds, env, nil
}
