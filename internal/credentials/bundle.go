package credentials

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/cruciblehq/cruxship/internal/mount"
)

// Secret ids the bundle binds.
const (
	IdentityID    = "ssh-identity"
	IdentityPubID = "ssh-identity-pub"
	KnownHostsID  = "known-hosts"
)

const (
	minNeedle  = 32 // Shortest key line treated as identifying material.
	minOverlap = 6  // Private scalar bytes a key line must encode.
)

// Credentials provisioned for one invocation.
type Bundle struct {
	Identity    []byte            // Private key.
	IdentityPub []byte            // Public key in authorized_keys format.
	Fingerprint string            // SHA256 fingerprint of the identity.
	Token       []byte            // Registry token.
	TokenID     string            // Secret id the token is bound to.
	KnownHosts  []byte            // known_hosts body for the scanned hosts.
	Agent       *mount.SSHForward // Forwarded agent, nil when none.
	AgentKeys   int               // Identities the agent holds.
}

// Returns the secret bindings of the bundle.
func (b *Bundle) Bindings() []mount.Binding {
	var bindings []mount.Binding
	if len(b.Identity) > 0 {
		bindings = append(bindings,
			mount.Binding{ID: IdentityID, Data: b.Identity},
			mount.Binding{ID: IdentityPubID, Data: b.IdentityPub},
		)
	}
	if len(b.KnownHosts) > 0 {
		bindings = append(bindings, mount.Binding{ID: KnownHostsID, Data: b.KnownHosts})
	}
	if len(b.Token) > 0 {
		bindings = append(bindings, mount.Binding{ID: b.TokenID, Data: b.Token})
	}
	return bindings
}

// Returns the bindings as a set, together with extra invocation bindings.
func (b *Bundle) Set(extra ...mount.Binding) (*mount.Set, error) {
	return mount.NewSet(append(b.Bindings(), extra...)...)
}

// Returns byte strings whose presence in an image or argument reveals a
// credential.
//
// The private key is matched whole and by the body lines that encode its
// private scalar, so a key copied with other line endings or indentation is
// still found. Lines
// holding only the format header or public data are shared with every key
// of the same type and are left out. The public key is matched by its
// encoded blob, the token whole. Known-hosts entries are public and not
// included.
func (b *Bundle) Needles() [][]byte {
	var needles [][]byte
	add := func(n []byte) {
		if n = bytes.TrimSpace(n); len(n) > 0 {
			needles = append(needles, n)
		}
	}

	if len(b.Identity) > 0 {
		add(b.Identity)
		for _, line := range privateLines(b.Identity) {
			add(line)
		}
	}
	if fields := bytes.Fields(b.IdentityPub); len(fields) >= 2 {
		add(fields[1])
	}
	add(b.Token)

	return needles
}

// Returns the PEM body lines of key that encode at least minOverlap bytes of
// its private scalar. Returns nil when the key cannot be decoded.
func privateLines(key []byte) [][]byte {
	block, _ := pem.Decode(key)
	if block == nil || len(block.Headers) > 0 {
		return nil
	}
	secret := privateScalar(key)
	start := bytes.Index(block.Bytes, secret)
	if len(secret) == 0 || start < 0 {
		return nil
	}
	end := start + len(secret)

	var lines [][]byte
	offset := 0 // Base64 characters consumed before the line.
	for _, line := range bytes.Split(key, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || bytes.HasPrefix(line, []byte("-----")) {
			continue
		}
		from, to := offset*3/4, (offset+len(line))*3/4
		offset += len(line)
		if len(line) >= minNeedle && min(to, end)-max(from, start) >= minOverlap {
			lines = append(lines, line)
		}
	}
	return lines
}

// Returns the private scalar of a parsed key, as it is encoded in the key
// file.
func privateScalar(key []byte) []byte {
	raw, err := ssh.ParseRawPrivateKey(key)
	if err != nil {
		return nil
	}
	switch k := raw.(type) {
	case ed25519.PrivateKey:
		return k.Seed()
	case *ed25519.PrivateKey:
		return k.Seed()
	case *rsa.PrivateKey:
		return k.D.Bytes()
	case *ecdsa.PrivateKey:
		return k.D.Bytes()
	}
	return nil
}

// Returns the name of the first build arg, in name order, whose value
// carries credential material.
func (b *Bundle) LeaksInto(args map[string]string) (string, bool) {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	needles := b.Needles()
	for _, name := range names {
		value := []byte(args[name])
		for _, n := range needles {
			if bytes.Contains(value, n) {
				return name, true
			}
		}
	}
	return "", false
}

// Describes the bundle without revealing any secret.
func (b *Bundle) String() string {
	var parts []string
	if b.Fingerprint != "" {
		parts = append(parts, "identity "+b.Fingerprint)
	}
	if len(b.Token) > 0 {
		parts = append(parts, fmt.Sprintf("token %s (%d bytes)", b.TokenID, len(b.Token)))
	}
	if len(b.KnownHosts) > 0 {
		parts = append(parts, fmt.Sprintf("%d known_hosts lines", bytes.Count(b.KnownHosts, []byte("\n"))))
	}
	if b.Agent != nil {
		parts = append(parts, fmt.Sprintf("agent with %d keys", b.AgentKeys))
	}
	if len(parts) == 0 {
		return "no credentials"
	}
	return strings.Join(parts, ", ")
}
