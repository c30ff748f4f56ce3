package manifest

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/paths"
)

// Reads, parses and validates the pipeline file at path.
//
// Relative context and deploy directories resolve against the directory
// holding the file.
func Load(path string) (*Pipeline, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, crex.Wrap(ErrRead, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, crex.Wrap(ErrRead, err)
	}

	p, err := Parse(src, abs)
	if err != nil {
		return nil, err
	}

	slog.Debug("pipeline loaded", "file", abs, "stages", len(p.Stages), "target", p.Target)
	return p, nil
}

// Parses and validates pipeline source. The filename is used for
// diagnostics and to resolve relative directories.
func Parse(src []byte, filename string) (*Pipeline, error) {
	f, err := decode(src, filename)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(filename)
	p := &Pipeline{
		Target: f.Target,
		Tag:    f.Tag,
		Squash: f.Squash == nil || *f.Squash,
		Args:   f.Args,
		Labels: f.Labels,
		File:   filename,
	}
	p.Context = resolveDir(base, f.Context)

	for _, hs := range f.Stages {
		s, err := hs.stage()
		if err != nil {
			return nil, err
		}
		p.Stages = append(p.Stages, s)
	}

	if f.Credentials != nil {
		p.Credentials = f.Credentials.credentials()
	}

	p.Deploy = Deploy{Command: DefaultDeployCommand, Dir: p.Context}
	if f.Deploy != nil {
		if f.Deploy.Command != "" {
			p.Deploy.Command = f.Deploy.Command
		}
		if f.Deploy.Dir != "" {
			p.Deploy.Dir = resolveDir(base, f.Deploy.Dir)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (h *hclCredentials) credentials() *Credentials {
	c := &Credentials{
		Identity:   h.Identity,
		TokenFile:  h.TokenFile,
		TokenID:    h.TokenID,
		KnownHosts: h.KnownHosts,
	}
	if c.Identity == "" {
		c.Identity = paths.Identity()
	}
	if c.TokenFile == "" {
		c.TokenFile = paths.RegistryToken()
	}
	if c.TokenID == "" {
		c.TokenID = DefaultTokenID
	}
	c.Identity = paths.Expand(c.Identity)
	c.TokenFile = paths.Expand(c.TokenFile)
	return c
}

func resolveDir(base, dir string) string {
	dir = paths.Expand(dir)
	if dir == "" {
		return base
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(base, dir)
}
