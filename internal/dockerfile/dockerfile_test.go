package dockerfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruciblehq/cruxship/internal/graph"
	"github.com/cruciblehq/cruxship/internal/manifest"
	"github.com/cruciblehq/cruxship/internal/mount"
)

const pipeline = `
target = "runtime"
tag    = "catscii"
args   = { PROFILE = "release" }

stage "base" {
  from = "ubuntu:22.04"
}

stage "docs" {
  from = "node:20"
  step "run" { run = "npm run docs" }
}

stage "builder" {
  from    = "base"
  workdir = "/src"
  args    = ["PROFILE"]

  step "copy" {
    src  = ["Cargo.toml", "src"]
    dest = "./"
  }

  step "compile" {
    command  = "cargo build --profile $PROFILE"
    output   = "target/release/catscii"
    artifact = "/out/catscii"
    mount "cache" { target = "/root/.cargo/registry" }
    mount "secret" {
      id  = "registry-token"
      env = "CARGO_TOKEN"
    }
    mount "ssh" {}
  }
}

stage "runtime" {
  from = "base"
  cmd  = ["/app/catscii"]
  step "install" { packages = ["ca-certificates"] }
  step "artifact" { from = "builder" }
}
`

func plan(t *testing.T, src string) *graph.Plan {
	t.Helper()
	p, err := manifest.Parse([]byte(src), "/work/cruxship.hcl")
	require.NoError(t, err)
	plan, err := graph.Resolve(p, "")
	require.NoError(t, err)
	return plan
}

func TestRender(t *testing.T) {
	out, err := Render(plan(t, pipeline))
	require.NoError(t, err)

	cache := mount.Mount{Kind: mount.KindCache, Target: "/root/.cargo/registry"}.CacheKey()
	want := `# syntax=docker/dockerfile:1

FROM ubuntu:22.04 AS base

FROM base AS builder
ARG PROFILE
WORKDIR /src
COPY Cargo.toml src /src/
RUN --mount=type=cache,id=` + cache + `,target=/root/.cargo/registry,sharing=locked \
    --mount=type=secret,id=registry-token,env=CARGO_TOKEN \
    --mount=type=ssh \
    <<'CRUXSHIP'
set -eu
cargo build --profile $PROFILE
mkdir -p /out
objcopy --compress-debug-sections target/release/catscii /out/catscii
CRUXSHIP

FROM base AS runtime
RUN apt-get update && DEBIAN_FRONTEND=noninteractive apt-get install -y --no-install-recommends ca-certificates && apt-get clean && rm -rf /var/lib/apt/lists/*
COPY --from=builder /out/catscii /app/catscii
CMD ["/app/catscii"]
`
	assert.Equal(t, want, string(out))
}

func TestRenderOmitsUnplannedStages(t *testing.T) {
	out, err := Render(plan(t, pipeline))
	require.NoError(t, err)
	assert.NotContains(t, string(out), "node:20")
	assert.NotContains(t, string(out), "npm run docs")
}

func TestRenderWithoutCaches(t *testing.T) {
	out, err := Render(plan(t, pipeline).WithoutCaches())
	require.NoError(t, err)
	assert.NotContains(t, string(out), "type=cache")
	assert.Contains(t, string(out), "type=secret,id=registry-token")
}

func TestRenderScopedModifiers(t *testing.T) {
	out, err := Render(plan(t, `
target = "a"
tag    = "x"
stage "a" {
  from = "alpine"
  step "run" {
    run     = "make"
    workdir = "/build"
    shell   = "/bin/bash"
    env     = { CC = "clang", GREETING = "it's" }
  }
  step "run" { run = "echo next" }
}
`))
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, "RUN <<'CRUXSHIP'\n#!/bin/bash\nset -e\nmkdir -p '/build' && cd '/build'\nexport CC='clang'\nexport GREETING='it'\\''s'\nmake\nCRUXSHIP\n")
	assert.Contains(t, s, "RUN echo next\n")
	assert.NotContains(t, s, "ENV")
	assert.NotContains(t, s, "WORKDIR")
}

func TestRenderMultiLineRunStopsOnFailure(t *testing.T) {
	out, err := Render(plan(t, `
target = "a"
tag    = "x"
stage "a" {
  from = "alpine"
  step "run" {
    run     = "false\necho unreachable"
    workdir = "/build"
  }
  step "run" { run = "make\nmake install" }
}
`))
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, "RUN <<'CRUXSHIP'\nset -e\nmkdir -p '/build' && cd '/build'\nset -e\nfalse\necho unreachable\nCRUXSHIP\n")
	assert.Contains(t, s, "RUN <<'CRUXSHIP'\nset -e\nmake\nmake install\nCRUXSHIP\n")
}

func TestRenderPersistentModifiers(t *testing.T) {
	out, err := Render(plan(t, `
target = "a"
tag    = "x"
stage "a" {
  from  = "alpine"
  shell = "/bin/ash"
  env   = { PATH = "/usr/local/bin:/usr/bin:/bin" }
  step "workdir" { workdir = "/app" }
  step "env" { env = { MODE = "prod" } }
  step "copy" {
    src  = ["config.toml"]
    dest = "conf/"
  }
}
`))
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `SHELL ["/bin/ash","-c"]`)
	assert.Contains(t, s, `ENV PATH="/usr/local/bin:/usr/bin:/bin"`)
	assert.Contains(t, s, "WORKDIR /app\n")
	assert.Contains(t, s, `ENV MODE="prod"`)
	assert.Contains(t, s, "COPY config.toml /app/conf/\n")
}

func TestRenderRelativeCopyWithoutWorkdir(t *testing.T) {
	_, err := Render(plan(t, `
target = "a"
tag    = "x"
stage "a" {
  from = "alpine"
  step "copy" {
    src  = ["x"]
    dest = "x"
  }
}
`))
	assert.ErrorIs(t, err, ErrRender)
}

func TestHeredocDelimiter(t *testing.T) {
	assert.Equal(t, "CRUXSHIP", heredocDelimiter("echo a\necho b"))
	assert.Equal(t, "CRUXSHIP_1", heredocDelimiter("cat <<CRUXSHIP\nx\nCRUXSHIP"))
	assert.True(t, strings.HasPrefix(heredocDelimiter("CRUXSHIP\nCRUXSHIP_1"), "CRUXSHIP_2"))
}
