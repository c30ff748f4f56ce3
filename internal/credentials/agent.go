package credentials

import (
	"context"
	"net"

	"golang.org/x/crypto/ssh/agent"

	"github.com/cruciblehq/cruxship/internal/crex"
)

// Reports how many identities the agent at a socket holds.
type Prober interface {
	Probe(ctx context.Context, socket string) (int, error)
}

// Probes an agent over its unix socket.
type AgentProber struct{}

// Implements [Prober].
func (AgentProber) Probe(ctx context.Context, socket string) (int, error) {
	if socket == "" {
		return 0, crex.Wrapf(ErrCredentials, "no ssh agent: SSH_AUTH_SOCK is not set")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return 0, crex.Wrapf(ErrCredentials, "ssh agent at %s: %w", socket, err)
	}
	defer conn.Close()

	keys, err := agent.NewClient(conn).List()
	if err != nil {
		return 0, crex.Wrapf(ErrCredentials, "ssh agent at %s: %w", socket, err)
	}
	return len(keys), nil
}
