package build

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveDest(t *testing.T) {
	tests := []struct {
		name    string
		dest    string
		workdir string
		want    string
		wantErr bool
	}{
		{name: "absolute dest", dest: "/opt/file.txt", want: "/opt/file.txt"},
		{name: "relative dest with workdir", dest: "out", workdir: "/app", want: "/app/out"},
		{name: "relative dir keeps slash", dest: "out/", workdir: "/app", want: "/app/out/"},
		{name: "dot dir", dest: "./", workdir: "/app", want: "/app/"},
		{name: "relative dest without workdir", dest: "out/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveDest(tt.dest, tt.workdir)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("dest = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCopyTarget(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		dest    string
		isDir   bool
		intoDir bool
		want    string
	}{
		{name: "file renamed", src: "Cargo.toml", dest: "/app/manifest.toml", want: "/app/manifest.toml"},
		{name: "file into dir", src: "src/main.rs", dest: "/app/src/", intoDir: true, want: "/app/src/main.rs"},
		{name: "dir contents", src: "src", dest: "/app/src/", isDir: true, intoDir: true, want: "/app/src"},
		{name: "dir to root", src: "rootfs", dest: "/", isDir: true, intoDir: true, want: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := copyTarget(tt.src, tt.dest, tt.isDir, tt.intoDir); got != tt.want {
				t.Errorf("copyTarget = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContextPath(t *testing.T) {
	ctx := t.TempDir()

	got, err := contextPath(ctx, "src/main.rs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := filepath.Join(ctx, "src", "main.rs"); got != want {
		t.Fatalf("path = %q, want %q", got, want)
	}

	for _, src := range []string{"../secret", "src/../../secret", ".."} {
		if _, err := contextPath(ctx, src); err == nil {
			t.Errorf("contextPath(%q) succeeded, want error", src)
		}
	}
}

func TestRenameEntry(t *testing.T) {
	tests := []struct {
		name, from, to, want string
	}{
		{"catscii", "catscii", "server", "server"},
		{"static/", "static", "assets", "assets/"},
		{"static/css/site.css", "static", "assets", "assets/css/site.css"},
		{"static/", "static", ".", "."},
		{"static/index.html", "static", ".", "index.html"},
		{"other/file", "static", "assets", "other/file"},
		{"staticfile", "static", "assets", "staticfile"},
	}

	for _, tt := range tests {
		if got := renameEntry(tt.name, tt.from, tt.to); got != tt.want {
			t.Errorf("renameEntry(%q, %q, %q) = %q, want %q", tt.name, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRetarget(t *testing.T) {
	var src bytes.Buffer
	tw := tar.NewWriter(&src)
	write := func(name string, typ byte, body string) {
		t.Helper()
		h := &tar.Header{Name: name, Typeflag: typ, Mode: 0755, Size: int64(len(body))}
		if err := tw.WriteHeader(h); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	write("release/", tar.TypeDir, "")
	write("release/catscii", tar.TypeReg, "ELF")
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := retarget(&src, &out, "release", "app"); err != nil {
		t.Fatalf("retarget: %v", err)
	}

	tr := tar.NewReader(&out)
	var names []string
	var body []byte
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, h.Name)
		if h.Typeflag == tar.TypeReg {
			body, _ = io.ReadAll(tr)
		}
	}

	if len(names) != 2 || names[0] != "app/" || names[1] != "app/catscii" {
		t.Fatalf("names = %v, want [app/ app/catscii]", names)
	}
	if string(body) != "ELF" {
		t.Fatalf("body = %q, want ELF", body)
	}
}

func TestWriteDirToTar(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "src", "main.rs"), []byte("fn main() {}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("src/main.rs", filepath.Join(dir, "entry.rs")); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := writeDirToTar(tw, dir, "project"); err != nil {
		t.Fatalf("writeDirToTar: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	headers := make(map[string]*tar.Header)
	tr := tar.NewReader(&buf)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		headers[h.Name] = h
	}

	for _, name := range []string{"project", "project/src", "project/src/main.rs", "project/entry.rs"} {
		h, ok := headers[name]
		if !ok {
			t.Fatalf("missing entry %q in %v", name, headers)
		}
		if h.Uid != 0 || h.Gid != 0 || h.Uname != "" {
			t.Errorf("entry %q owned by %d:%d (%s), want root", name, h.Uid, h.Gid, h.Uname)
		}
	}
	if link := headers["project/entry.rs"]; link.Typeflag != tar.TypeSymlink || link.Linkname != "src/main.rs" {
		t.Fatalf("symlink = %+v", link)
	}
}
