package credentials

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/manifest"
	"github.com/cruciblehq/cruxship/internal/mount"
	"github.com/cruciblehq/cruxship/internal/paths"
)

// Controls credential provisioning.
type Options struct {
	NeedAgent   bool    // Some step forwards the agent; its absence is fatal.
	AgentSocket string  // Agent socket. Defaults to $SSH_AUTH_SOCK.
	Scanner     Scanner // Host key source. Defaults to a network [Keyscan].
	Prober      Prober  // Agent probe. Defaults to [AgentProber].
}

// Reads the identity and token, scans the trusted hosts and probes the agent.
//
// A nil c provisions only the agent. Missing, unreadable or mismatched files
// fail with [ErrCredentials]; a host that cannot be scanned fails with
// [ErrTrust]. Nothing is retried.
func Load(ctx context.Context, c *manifest.Credentials, opts Options) (*Bundle, error) {
	if opts.Scanner == nil {
		opts.Scanner = &Keyscan{Config: paths.SSHConfig()}
	}
	if opts.Prober == nil {
		opts.Prober = AgentProber{}
	}
	if opts.AgentSocket == "" {
		opts.AgentSocket = os.Getenv(mount.SSHAuthSockEnv)
	}

	b := &Bundle{}

	if c != nil {
		if err := b.loadIdentity(c.Identity); err != nil {
			return nil, err
		}
		if err := b.loadToken(c.TokenFile, c.TokenID); err != nil {
			return nil, err
		}
		if err := b.scanHosts(ctx, opts.Scanner, c.KnownHosts); err != nil {
			return nil, err
		}
	}

	if opts.NeedAgent {
		n, err := opts.Prober.Probe(ctx, opts.AgentSocket)
		if err != nil {
			return nil, err
		}
		b.Agent = &mount.SSHForward{Socket: opts.AgentSocket}
		b.AgentKeys = n
		if n == 0 {
			slog.Warn("ssh agent holds no identities", "socket", opts.AgentSocket)
		}
	}

	slog.Info("credentials provisioned", "summary", b.String())
	return b, nil
}

// Reads the private key and its public half and checks that they match.
func (b *Bundle) loadIdentity(path string) error {
	priv, err := os.ReadFile(path)
	if err != nil {
		return crex.Wrapf(ErrCredentials, "identity: %w", err)
	}
	pub, err := os.ReadFile(path + ".pub")
	if err != nil {
		return crex.Wrapf(ErrCredentials, "identity public key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(priv)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return crex.Wrapf(ErrCredentials, "identity %s is passphrase protected", path)
		}
		return crex.Wrapf(ErrCredentials, "identity %s: %w", path, err)
	}

	pk, _, _, _, err := ssh.ParseAuthorizedKey(pub)
	if err != nil {
		return crex.Wrapf(ErrCredentials, "identity %s.pub: %w", path, err)
	}

	have := ssh.FingerprintSHA256(signer.PublicKey())
	if want := ssh.FingerprintSHA256(pk); have != want {
		return crex.Wrapf(ErrCredentials, "identity %s does not match %s.pub", path, path)
	}

	warnIfExposed(path)

	b.Identity = priv
	b.IdentityPub = pub
	b.Fingerprint = have
	slog.Debug("identity loaded", "path", path, "type", signer.PublicKey().Type(), "fingerprint", have)
	return nil
}

// Reads the registry token.
func (b *Bundle) loadToken(path, id string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return crex.Wrapf(ErrCredentials, "registry token: %w", err)
	}

	token := bytes.TrimSpace(raw)
	if len(token) == 0 {
		return crex.Wrapf(ErrCredentials, "registry token %s is empty", path)
	}

	warnIfExposed(path)

	b.Token = token
	b.TokenID = id
	slog.Debug("registry token loaded", "path", path, "id", id, "bytes", len(token))
	return nil
}

// Builds the known_hosts body by scanning each host.
func (b *Bundle) scanHosts(ctx context.Context, s Scanner, hosts []string) error {
	var body strings.Builder
	for _, host := range hosts {
		lines, err := s.Scan(ctx, host)
		if err != nil {
			return crex.Wrapf(ErrTrust, "%s: %w", host, err)
		}
		if len(lines) == 0 {
			return crex.Wrapf(ErrTrust, "%s offered no host key", host)
		}
		for _, line := range lines {
			body.WriteString(line)
			body.WriteByte('\n')
		}
		slog.Info("host trusted", "host", host, "keys", len(lines))
	}
	if body.Len() > 0 {
		b.KnownHosts = []byte(body.String())
	}
	return nil
}

// Warns when a secret file is readable by other users.
func warnIfExposed(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0077 != 0 {
		slog.Warn("secret file is accessible by other users", "path", path, "mode", info.Mode().Perm().String())
	}
}
