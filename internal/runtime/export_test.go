package runtime

import (
	"strings"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

func TestManifestGCLabels(t *testing.T) {
	m := ocispec.Manifest{
		Config: ocispec.Descriptor{
			Digest: digest.FromString("config"),
		},
		Layers: []ocispec.Descriptor{
			{Digest: digest.FromString("layer0")},
			{Digest: digest.FromString("layer1")},
		},
	}

	labels := manifestGCLabels(m)

	configLabel := labels["containerd.io/gc.ref.content.config"]
	if configLabel != m.Config.Digest.String() {
		t.Fatalf("config label = %q, want %q", configLabel, m.Config.Digest.String())
	}

	for i, layer := range m.Layers {
		key := "containerd.io/gc.ref.content.l." + string(rune('0'+i))
		got := labels[key]
		if got != layer.Digest.String() {
			t.Fatalf("labels[%q] = %q, want %q", key, got, layer.Digest.String())
		}
	}

	if len(labels) != 3 {
		t.Fatalf("len(labels) = %d, want 3", len(labels))
	}
}

func TestManifestGCLabelsNoLayers(t *testing.T) {
	m := ocispec.Manifest{
		Config: ocispec.Descriptor{
			Digest: digest.FromString("config-only"),
		},
	}

	labels := manifestGCLabels(m)
	if len(labels) != 1 {
		t.Fatalf("len(labels) = %d, want 1", len(labels))
	}
	if labels["containerd.io/gc.ref.content.config"] != m.Config.Digest.String() {
		t.Fatal("config label mismatch")
	}
}

func TestImageConfigApply(t *testing.T) {
	config := ocispec.Image{}
	config.Config.Entrypoint = []string{"/docker-entrypoint.sh"}
	config.Config.Cmd = []string{"bash"}
	config.Config.Env = []string{"PATH=/usr/bin", "LANG=C"}
	config.Config.Labels = map[string]string{"maintainer": "base"}

	ImageConfig{
		Cmd:     []string{"/app/server", "--port", "8080"},
		Env:     []string{"PATH=/app:/usr/bin", "MODE=release"},
		Workdir: "/app",
		Labels:  map[string]string{"org.opencontainers.image.revision": "abc123"},
	}.apply(&config)

	if config.Config.Entrypoint != nil {
		t.Fatalf("entrypoint = %v, want nil", config.Config.Entrypoint)
	}
	if strings.Join(config.Config.Cmd, " ") != "/app/server --port 8080" {
		t.Fatalf("cmd = %v", config.Config.Cmd)
	}
	if strings.Join(config.Config.Env, ",") != "PATH=/app:/usr/bin,LANG=C,MODE=release" {
		t.Fatalf("env = %v", config.Config.Env)
	}
	if config.Config.WorkingDir != "/app" {
		t.Fatalf("workdir = %q, want /app", config.Config.WorkingDir)
	}
	if config.Config.Labels["maintainer"] != "base" || config.Config.Labels["org.opencontainers.image.revision"] != "abc123" {
		t.Fatalf("labels = %v", config.Config.Labels)
	}
}

func TestImageConfigApplyEmptyKeepsBase(t *testing.T) {
	config := ocispec.Image{}
	config.Config.Entrypoint = []string{"/entry"}
	config.Config.WorkingDir = "/srv"

	ImageConfig{}.apply(&config)

	if len(config.Config.Entrypoint) != 1 || config.Config.WorkingDir != "/srv" {
		t.Fatalf("config changed: %+v", config.Config)
	}
	if config.Config.Labels != nil {
		t.Fatalf("labels = %v, want nil", config.Config.Labels)
	}
}

func TestAppendLayer(t *testing.T) {
	manifest := ocispec.Manifest{Layers: []ocispec.Descriptor{{Digest: digest.FromString("base")}}}
	config := ocispec.Image{RootFS: ocispec.RootFS{DiffIDs: []digest.Digest{digest.FromString("base-diff")}}}
	layer := ocispec.Descriptor{Digest: digest.FromString("stage")}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	appendLayer(&manifest, &config, layer, digest.FromString("stage-diff"), ImageConfig{Workdir: "/app"}, now)

	if len(manifest.Layers) != 2 || manifest.Layers[1].Digest != layer.Digest {
		t.Fatalf("layers = %v", manifest.Layers)
	}
	if len(config.RootFS.DiffIDs) != 2 || config.RootFS.DiffIDs[1] != digest.FromString("stage-diff") {
		t.Fatalf("diff ids = %v", config.RootFS.DiffIDs)
	}
	if config.Created == nil || !config.Created.Equal(now) {
		t.Fatalf("created = %v, want %v", config.Created, now)
	}
	if len(config.History) != 1 || config.History[0].CreatedBy != "cruxship" {
		t.Fatalf("history = %v", config.History)
	}
	if config.Config.WorkingDir != "/app" {
		t.Fatalf("workdir = %q, want /app", config.Config.WorkingDir)
	}
}
