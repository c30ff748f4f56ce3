package build

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"path"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/cruciblehq/cruxship/internal/graph"
	"github.com/cruciblehq/cruxship/internal/manifest"
	"github.com/cruciblehq/cruxship/internal/runtime"
)

const testPrefix = "t-linux-amd64-"

// Records what the executor asks of the runtime. Compile steps of stages
// listed in artifacts produce their artifact unless the stage's exit code
// is non-zero.
type fakeRuntime struct {
	mu         sync.Mutex
	exitCodes  map[string]int    // By stage name.
	artifacts  map[string]string // Files compile steps create, by stage name.
	started    []string
	destroyed  []string
	images     []string
	containers map[string]*fakeContainer
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		exitCodes:  make(map[string]int),
		artifacts:  make(map[string]string),
		containers: make(map[string]*fakeContainer),
	}
}

func (r *fakeRuntime) Pull(_ context.Context, ref, _ string) (string, error) {
	return "docker.io/library/" + ref, nil
}

func (r *fakeRuntime) Start(_ context.Context, image, id, _ string) (Container, error) {
	stage := strings.TrimPrefix(id, testPrefix)
	r.started = append(r.started, stage)
	c := &fakeContainer{rt: r, id: id, stage: stage, image: image, files: make(map[string]bool)}
	r.containers[stage] = c
	return c, nil
}

func (r *fakeRuntime) DestroyImage(_ context.Context, name string) error {
	r.images = append(r.images, name)
	return nil
}

type fakeContainer struct {
	rt      *fakeRuntime
	id      string
	stage   string
	image   string
	files   map[string]bool
	procs   []runtime.Process
	copied  []string // Archive entries extracted into the container.
	stopped bool
	export  *runtime.ImageConfig
}

func (c *fakeContainer) ID() string { return c.id }

func (c *fakeContainer) Exec(_ context.Context, p runtime.Process) (*runtime.ExecResult, error) {
	c.procs = append(c.procs, p)
	if code := c.rt.exitCodes[c.stage]; code != 0 {
		return &runtime.ExecResult{ExitCode: code, Stderr: "error: could not compile `catscii`\n"}, nil
	}
	if artifact, ok := c.rt.artifacts[c.stage]; ok {
		c.files[artifact] = true
	}
	return &runtime.ExecResult{}, nil
}

func (c *fakeContainer) MkdirAll(context.Context, string) error { return nil }

func (c *fakeContainer) CopyTo(_ context.Context, r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		c.rt.mu.Lock()
		c.copied = append(c.copied, path.Join(destDir, h.Name))
		c.rt.mu.Unlock()
	}
}

func (c *fakeContainer) CopyFrom(_ context.Context, w io.Writer, p string) error {
	data := []byte("\x7fELF")
	tw := tar.NewWriter(w)
	if err := tw.WriteHeader(&tar.Header{Name: path.Base(p), Mode: 0755, Size: int64(len(data)), Typeflag: tar.TypeReg}); err != nil {
		return err
	}
	if _, err := tw.Write(data); err != nil {
		return err
	}
	return tw.Close()
}

func (c *fakeContainer) FileExists(_ context.Context, p string) (bool, error) {
	return c.files[p], nil
}

func (c *fakeContainer) DirExists(context.Context, string) (bool, error) { return false, nil }

func (c *fakeContainer) Stop(context.Context) error {
	c.stopped = true
	return nil
}

func (c *fakeContainer) Commit(context.Context, runtime.ImageConfig) (string, error) {
	return "cruxship/" + c.id, nil
}

func (c *fakeContainer) Export(_ context.Context, output string, ic runtime.ImageConfig) (string, error) {
	c.export = &ic
	return path.Join(output, "image.tar"), nil
}

func (c *fakeContainer) Destroy(context.Context) {
	c.rt.destroyed = append(c.rt.destroyed, c.stage)
}

// Returns the plan of a base, builder and runtime pipeline whose runtime
// stage takes the builder's artifact.
func testPlan(t *testing.T) *graph.Plan {
	t.Helper()

	p := &manifest.Pipeline{
		Target: "runtime",
		Args:   map[string]string{"PROFILE": "release"},
		Stages: []*manifest.Stage{
			{Name: "base", From: "ubuntu:22.04"},
			{Name: "builder", From: "base", Workdir: "/src", Args: []string{"PROFILE"}, Steps: []*manifest.Step{{
				Kind:     manifest.StepCompile,
				Command:  "cargo build --profile $PROFILE",
				Output:   "target/release/catscii",
				Artifact: "/out/catscii",
			}}},
			{Name: "runtime", From: "base", Cmd: []string{"/app/catscii"}, Steps: []*manifest.Step{
				{Kind: manifest.StepInstall, Manager: manifest.ManagerApt, Packages: []string{"ca-certificates"}},
				{Kind: manifest.StepArtifact, From: "builder"},
			}},
		},
	}

	plan, err := graph.Resolve(p, "")
	if err != nil {
		t.Fatal(err)
	}
	return plan
}

func testExecutor(t *testing.T) (*executor, *fakeRuntime) {
	t.Helper()
	rt := newFakeRuntime()
	rt.artifacts["builder"] = "/out/catscii"
	return newExecutor(rt, Options{
		Plan:     testPlan(t),
		Labels:   map[string]string{"org.opencontainers.image.revision": "0123abcd"},
		Output:   "/tmp/out",
		Prefix:   "t",
		Platform: "linux/amd64",
	}), rt
}

func TestBuild(t *testing.T) {
	e, rt := testExecutor(t)

	result, err := e.build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Archive != "/tmp/out/image.tar" {
		t.Fatalf("archive = %q", result.Archive)
	}
	if want := []string{"base", "builder", "runtime"}; !slices.Equal(rt.started, want) {
		t.Fatalf("started = %v, want %v", rt.started, want)
	}
	if want := []string{"base", "builder", "runtime"}; !slices.Equal(rt.destroyed, want) {
		t.Fatalf("destroyed = %v, want %v", rt.destroyed, want)
	}
	if want := []string{"cruxship/" + testPrefix + "base"}; !slices.Equal(rt.images, want) {
		t.Fatalf("destroyed images = %v, want %v", rt.images, want)
	}

	builder := rt.containers["builder"]
	if builder.image != "cruxship/"+testPrefix+"base" {
		t.Fatalf("builder image = %q, want the committed base", builder.image)
	}
	if len(builder.procs) != 1 {
		t.Fatalf("builder processes = %d, want 1 (compile)", len(builder.procs))
	}
	if !slices.Contains(builder.procs[0].Env, "PROFILE=release") {
		t.Fatalf("compile env = %v, want PROFILE=release", builder.procs[0].Env)
	}

	target := rt.containers["runtime"]
	if len(target.procs) != 1 {
		t.Fatalf("runtime processes = %d, want 1 (install)", len(target.procs))
	}
	if slices.ContainsFunc(target.procs[0].Env, func(kv string) bool { return strings.HasPrefix(kv, "PROFILE=") }) {
		t.Fatalf("install env = %v, PROFILE is not declared by the runtime stage", target.procs[0].Env)
	}
	if !slices.Equal(target.copied, []string{"/app/catscii"}) {
		t.Fatalf("copied = %v, want /app/catscii", target.copied)
	}
	if !target.stopped || target.export == nil {
		t.Fatal("target stage was not stopped and exported")
	}
	if !slices.Equal(target.export.Cmd, []string{"/app/catscii"}) || target.export.Labels["org.opencontainers.image.revision"] != "0123abcd" {
		t.Fatalf("image config = %+v", *target.export)
	}
	if builder.export != nil {
		t.Fatal("only the target stage is exported")
	}
}

func TestBuildArgsStayOutOfImages(t *testing.T) {
	e, rt := testExecutor(t)
	e.opts.Plan = mustResolve(t, e.opts.Plan.Pipeline, "builder")

	if _, err := e.build(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, kv := range rt.containers["builder"].export.Env {
		if strings.HasPrefix(kv, "PROFILE=") {
			t.Fatalf("image env = %v, build args must not be recorded", rt.containers["builder"].export.Env)
		}
	}
}

func TestBuildStopsAtFailingCompile(t *testing.T) {
	e, rt := testExecutor(t)
	rt.exitCodes["builder"] = 101

	result, err := e.build(context.Background())
	if !errors.Is(err, ErrCompile) {
		t.Fatalf("err = %v, want ErrCompile", err)
	}
	if result != nil {
		t.Fatalf("result = %+v, want none", result)
	}
	if !strings.Contains(err.Error(), "could not compile") {
		t.Fatalf("err = %v, want the last stderr line", err)
	}
	if want := []string{"base", "builder"}; !slices.Equal(rt.started, want) {
		t.Fatalf("started = %v, want %v; runtime must not start", rt.started, want)
	}
	if want := []string{"base", "builder"}; !slices.Equal(rt.destroyed, want) {
		t.Fatalf("destroyed = %v, want %v", rt.destroyed, want)
	}
}

func TestBuildMissingArtifact(t *testing.T) {
	e, rt := testExecutor(t)
	delete(rt.artifacts, "builder")

	_, err := e.build(context.Background())
	if !errors.Is(err, ErrCompile) {
		t.Fatalf("err = %v, want ErrCompile", err)
	}
	if !strings.Contains(err.Error(), "/out/catscii was not produced") {
		t.Fatalf("err = %v", err)
	}
	if slices.Contains(rt.started, "runtime") {
		t.Fatal("runtime stage started without an artifact")
	}
}

func TestExecuteArtifactMissing(t *testing.T) {
	e, rt := testExecutor(t)
	ctx := context.Background()

	builder, _ := rt.Start(ctx, "", testPrefix+"builder", "")
	target, _ := rt.Start(ctx, "", testPrefix+"runtime", "")
	e.stages["builder"] = builder

	err := e.executeArtifact(ctx, target, &manifest.Step{Kind: manifest.StepArtifact, From: "builder"}, "")
	if !errors.Is(err, ErrAssembly) {
		t.Fatalf("err = %v, want ErrAssembly", err)
	}

	err = e.executeArtifact(ctx, target, &manifest.Step{Kind: manifest.StepArtifact, From: "tests"}, "")
	if !errors.Is(err, ErrAssembly) {
		t.Fatalf("err = %v, want ErrAssembly for a stage outside the plan", err)
	}
	if len(rt.containers["runtime"].copied) != 0 {
		t.Fatal("nothing may be copied")
	}
}

func mustResolve(t *testing.T, p *manifest.Pipeline, target string) *graph.Plan {
	t.Helper()
	plan, err := graph.Resolve(p, target)
	if err != nil {
		t.Fatal(err)
	}
	return plan
}

func TestContainerID(t *testing.T) {
	e := newExecutor(nil, Options{Prefix: "cruxship-1234", Platform: "linux/arm64"})
	if got := e.containerID("build"); got != "cruxship-1234-linux-arm64-build" {
		t.Fatalf("containerID = %q", got)
	}
}

func TestPlatformSlug(t *testing.T) {
	if got := platformSlug("linux/arm/v7"); got != "linux-arm-v7" {
		t.Fatalf("platformSlug = %q", got)
	}
}

func TestImageConfig(t *testing.T) {
	e := newExecutor(nil, Options{})
	stage := &manifest.Stage{Name: "runtime", Cmd: []string{"/app/catscii"}}

	state := newStepState()
	state.apply(&manifest.Step{Workdir: "/app", Env: map[string]string{"RUST_LOG": "info", "PORT": "8080"}})
	e.states[stage.Name] = state

	cfg := e.imageConfig(stage)
	if !slices.Equal(cfg.Cmd, []string{"/app/catscii"}) {
		t.Fatalf("cmd = %v", cfg.Cmd)
	}
	if cfg.Workdir != "/app" {
		t.Fatalf("workdir = %q", cfg.Workdir)
	}
	if !slices.Equal(cfg.Env, []string{"PORT=8080", "RUST_LOG=info"}) {
		t.Fatalf("env = %v", cfg.Env)
	}
	if cfg.Labels != nil {
		t.Fatalf("labels = %v, want none", cfg.Labels)
	}
}

func TestLastLine(t *testing.T) {
	tests := map[string]string{
		"":                                 "",
		"error: linker failed\n":           "error: linker failed",
		"warning: x\nerror: cannot find\n": "error: cannot find",
		"E: Unable to locate package\n\n":  "E: Unable to locate package",
	}
	for in, want := range tests {
		if got := lastLine(in); got != want {
			t.Errorf("lastLine(%q) = %q, want %q", in, got, want)
		}
	}
}
