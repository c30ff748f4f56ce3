package mount

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Agent connection forwarded into ssh mounts.
type SSHForward struct {
	ID     string // Agent id referenced by ssh mounts. Empty means "default".
	Socket string // Host path of the agent socket.
}

// Returns the agent id, defaulting to "default".
func (f SSHForward) Name() string {
	if f.ID == "" {
		return "default"
	}
	return f.ID
}

// Renders the forward as a BuildKit --ssh value.
func (f SSHForward) Flag() string {
	if f.Socket == "" {
		return f.Name()
	}
	return f.Name() + "=" + f.Socket
}

// Converts a mount into an OCI bind mount backed by a host path.
//
// Cache directories are bound read-write, secret files read-only, and the
// agent socket read-write so the instruction can talk to it. Bind mounts sit
// outside the container's snapshot, so nothing they expose is committed.
func (m Mount) Spec(source string) specs.Mount {
	opts := []string{"rbind", "rw"}
	if m.Kind == KindSecret {
		opts = []string{"rbind", "ro"}
	}
	return specs.Mount{
		Type:        "bind",
		Source:      source,
		Destination: m.Path(),
		Options:     opts,
	}
}
