package manifest

import (
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/mount"
)

// Top-level structure of a pipeline file.
type hclFile struct {
	Target      string            `hcl:"target"`
	Tag         string            `hcl:"tag"`
	Squash      *bool             `hcl:"squash,optional"`
	Context     string            `hcl:"context,optional"`
	Args        map[string]string `hcl:"args,optional"`
	Labels      map[string]string `hcl:"labels,optional"`
	Stages      []*hclStage       `hcl:"stage,block"`
	Credentials *hclCredentials   `hcl:"credentials,block"`
	Deploy      *hclDeploy        `hcl:"deploy,block"`
}

type hclStage struct {
	Name    string            `hcl:"name,label"`
	From    string            `hcl:"from"`
	Workdir string            `hcl:"workdir,optional"`
	Shell   string            `hcl:"shell,optional"`
	Env     map[string]string `hcl:"env,optional"`
	Cmd     []string          `hcl:"cmd,optional"`
	Args    []string          `hcl:"args,optional"`
	Steps   []*hclStep        `hcl:"step,block"`
}

// Every step kind shares one block type so that declaration order survives
// decoding. Fields irrelevant to a kind are rejected during validation.
type hclStep struct {
	Kind     string            `hcl:"kind,label"`
	Run      string            `hcl:"run,optional"`
	Sources  []string          `hcl:"src,optional"`
	Dest     string            `hcl:"dest,optional"`
	From     string            `hcl:"from,optional"`
	Manager  string            `hcl:"manager,optional"`
	Packages []string          `hcl:"packages,optional"`
	Setup    []string          `hcl:"setup,optional"`
	Command  string            `hcl:"command,optional"`
	Output   string            `hcl:"output,optional"`
	Artifact string            `hcl:"artifact,optional"`
	Strip    *bool             `hcl:"strip,optional"`
	Shell    string            `hcl:"shell,optional"`
	Workdir  string            `hcl:"workdir,optional"`
	Env      map[string]string `hcl:"env,optional"`
	Mounts   []*hclMount       `hcl:"mount,block"`
}

type hclMount struct {
	Type     string `hcl:"type,label"`
	ID       string `hcl:"id,optional"`
	Target   string `hcl:"target,optional"`
	Env      string `hcl:"env,optional"`
	Mode     string `hcl:"mode,optional"`
	Required bool   `hcl:"required,optional"`
	Sharing  string `hcl:"sharing,optional"`
}

type hclCredentials struct {
	Identity   string   `hcl:"identity,optional"`
	TokenFile  string   `hcl:"token_file,optional"`
	TokenID    string   `hcl:"token_id,optional"`
	KnownHosts []string `hcl:"known_hosts,optional"`
}

type hclDeploy struct {
	Command string `hcl:"command,optional"`
	Dir     string `hcl:"dir,optional"`
}

// Returns the evaluation context pipeline expressions are evaluated in.
//
// The env object exposes the invoking process's environment and home the
// user's home directory.
func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}

	home, _ := os.UserHomeDir()

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env":  cty.ObjectVal(env),
			"home": cty.StringVal(home),
		},
	}
}

// Parses and decodes HCL source into the file structure.
func decode(src []byte, filename string) (*hclFile, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, crex.Wrap(ErrManifest, diags)
	}

	var f hclFile
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &f); diags.HasErrors() {
		return nil, crex.Wrap(ErrManifest, diags)
	}
	return &f, nil
}

func (h *hclStage) stage() (*Stage, error) {
	s := &Stage{
		Name:    h.Name,
		From:    h.From,
		Workdir: h.Workdir,
		Shell:   h.Shell,
		Env:     h.Env,
		Cmd:     h.Cmd,
		Args:    h.Args,
		Steps:   make([]*Step, 0, len(h.Steps)),
	}

	for i, hs := range h.Steps {
		step, err := hs.step()
		if err != nil {
			return nil, crex.Wrapf(ErrManifest, "stage %q step %d: %w", h.Name, i+1, err)
		}
		s.Steps = append(s.Steps, step)
	}
	return s, nil
}

func (h *hclStep) step() (*Step, error) {
	s := &Step{
		Kind:     StepKind(h.Kind),
		Run:      h.Run,
		Sources:  h.Sources,
		Dest:     h.Dest,
		From:     h.From,
		Manager:  PackageManager(h.Manager),
		Packages: h.Packages,
		Setup:    h.Setup,
		Command:  h.Command,
		Output:   h.Output,
		Artifact: h.Artifact,
		Strip:    h.Strip == nil || *h.Strip,
		stripSet: h.Strip != nil,
		Shell:    h.Shell,
		Workdir:  h.Workdir,
		Env:      h.Env,
	}

	if s.Kind == StepInstall && s.Manager == "" {
		s.Manager = ManagerApt
	}

	for _, hm := range h.Mounts {
		m, err := hm.mount()
		if err != nil {
			return nil, err
		}
		s.Mounts = append(s.Mounts, m)
	}
	return s, nil
}

func (h *hclMount) mount() (mount.Mount, error) {
	m := mount.Mount{
		Kind:     mount.Kind(h.Type),
		ID:       h.ID,
		Target:   h.Target,
		Env:      h.Env,
		Required: h.Required,
		Sharing:  mount.Sharing(h.Sharing),
	}

	if h.Mode != "" {
		mode, err := strconv.ParseUint(h.Mode, 8, 32)
		if err != nil {
			return m, crex.Wrapf(ErrManifest, "%s mount: mode %q is not octal", h.Type, h.Mode)
		}
		m.Mode = os.FileMode(mode)
	}
	return m, nil
}
