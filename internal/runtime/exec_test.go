package runtime

import (
	"slices"
	"testing"
)

func TestMergeEnv(t *testing.T) {
	tests := []struct {
		name      string
		base      []string
		overrides []string
		want      []string
	}{
		{
			name:      "override existing key in place",
			base:      []string{"A=1", "B=2"},
			overrides: []string{"A=override"},
			want:      []string{"A=override", "B=2"},
		},
		{
			name:      "append new key",
			base:      []string{"A=1"},
			overrides: []string{"B=2"},
			want:      []string{"A=1", "B=2"},
		},
		{
			name:      "empty base",
			base:      nil,
			overrides: []string{"A=1"},
			want:      []string{"A=1"},
		},
		{
			name:      "empty overrides",
			base:      []string{"A=1"},
			overrides: nil,
			want:      []string{"A=1"},
		},
		{
			name:      "both empty",
			base:      nil,
			overrides: nil,
			want:      []string{},
		},
		{
			name:      "value with equals sign",
			base:      []string{"CMD=foo=bar"},
			overrides: nil,
			want:      []string{"CMD=foo=bar"},
		},
		{
			name:      "malformed entries skipped",
			base:      []string{"NOEQUALS", "A=1"},
			overrides: []string{"ALSO_BAD", "B=2"},
			want:      []string{"A=1", "B=2"},
		},
		{
			name:      "later override wins",
			base:      []string{"PATH=/bin"},
			overrides: []string{"PATH=/usr/bin", "PATH=/opt/bin"},
			want:      []string{"PATH=/opt/bin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeEnv(tt.base, tt.overrides)
			if !slices.Equal(got, tt.want) {
				t.Fatalf("mergeEnv = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeEnvDoesNotAliasBase(t *testing.T) {
	base := make([]string, 1, 4)
	base[0] = "A=1"
	mergeEnv(base, []string{"A=2"})
	if base[0] != "A=1" {
		t.Fatalf("base mutated to %v", base)
	}
}

func TestNextExecID(t *testing.T) {
	a := nextExecID()
	b := nextExecID()
	if a == b {
		t.Fatalf("nextExecID returned duplicate: %q", a)
	}
	if a == "" || b == "" {
		t.Fatal("nextExecID returned empty string")
	}
}

func TestProcessArgs(t *testing.T) {
	shell := []string{"/bin/bash", "-euc"}
	p := Process{Shell: shell, Script: "make build"}

	got := p.args()
	want := []string{"/bin/bash", "-euc", "make build"}
	if !slices.Equal(got, want) {
		t.Fatalf("args = %v, want %v", got, want)
	}

	got[0] = "/bin/sh"
	if shell[0] != "/bin/bash" {
		t.Fatal("args aliases the shell slice")
	}
}
