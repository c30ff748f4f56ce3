package credentials

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/cruciblehq/cruxship/internal/crex"
)

// Default time allowed for a single host key handshake.
const DefaultScanTimeout = 10 * time.Second

// Host key algorithms requested from each scanned host, one handshake each.
var scanAlgorithms = []string{
	ssh.KeyAlgoED25519,
	ssh.KeyAlgoECDSA256,
	ssh.KeyAlgoRSASHA512,
}

// Retrieves the host keys a server offers.
type Scanner interface {
	Scan(ctx context.Context, host string) ([]string, error)
}

// Scans hosts over the network, the way ssh-keyscan does.
//
// Host aliases are resolved through the user's ssh_config so a scanned alias
// yields entries for both the alias and the host it points at.
type Keyscan struct {
	Config  string        // ssh_config path. Empty skips alias resolution.
	Timeout time.Duration // Per handshake. Defaults to DefaultScanTimeout.
}

// Sentinel returned from the host key callback once the key is captured.
var errCaptured = errors.New("host key captured")

// Returns known_hosts lines for every key the host offers.
func (k *Keyscan) Scan(ctx context.Context, host string) ([]string, error) {
	alias, hostname, port := k.resolve(host)
	addr := net.JoinHostPort(hostname, port)

	names := []string{knownhosts.Normalize(net.JoinHostPort(alias, port))}
	if hostname != alias {
		names = append(names, knownhosts.Normalize(addr))
	}

	var lines []string
	var lastErr error
	for _, algo := range scanAlgorithms {
		key, err := k.offered(ctx, addr, algo)
		if err != nil {
			lastErr = err
			continue
		}
		lines = append(lines, knownhosts.Line(names, key))
		slog.Debug("host key scanned", "host", host, "address", addr, "type", key.Type(), "fingerprint", ssh.FingerprintSHA256(key))
	}

	if len(lines) == 0 {
		return nil, crex.Wrapf(ErrTrust, "%s offered no host key: %w", addr, lastErr)
	}
	return lines, nil
}

// Performs a handshake restricted to one host key algorithm and returns the
// key the server presented.
func (k *Keyscan) offered(ctx context.Context, addr, algo string) (ssh.PublicKey, error) {
	timeout := k.Timeout
	if timeout == 0 {
		timeout = DefaultScanTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	var captured ssh.PublicKey
	cfg := &ssh.ClientConfig{
		User:              "cruxship-keyscan",
		HostKeyAlgorithms: []string{algo},
		Timeout:           timeout,
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			captured = key
			return errCaptured
		},
	}

	_, _, _, err = ssh.NewClientConn(conn, addr, cfg)
	if captured != nil {
		return captured, nil
	}
	if err == nil {
		err = errors.New("handshake completed without a host key")
	}
	return nil, err
}

// Resolves a host, optionally written as host:port, to the alias it was
// named by and the hostname and port ssh would connect to.
func (k *Keyscan) resolve(host string) (alias, hostname, port string) {
	alias, port = host, "22"
	if h, p, err := net.SplitHostPort(host); err == nil {
		alias, port = h, p
	}
	hostname = alias
	if k.Config == "" {
		return alias, hostname, port
	}

	f, err := os.Open(k.Config)
	if err != nil {
		return alias, hostname, port
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		slog.Warn("ignoring unreadable ssh config", "path", k.Config, "error", err)
		return alias, hostname, port
	}

	if h, err := cfg.Get(alias, "HostName"); err == nil && h != "" {
		hostname = h
	}
	if p, err := cfg.Get(alias, "Port"); err == nil && p != "" && port == "22" {
		if _, err := strconv.Atoi(p); err == nil {
			port = p
		}
	}
	return alias, hostname, port
}
