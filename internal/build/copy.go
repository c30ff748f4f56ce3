package build

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/manifest"
)

// Executes a copy step, transferring files into the container.
//
// Sources are read from the build context, or from the filesystem of the
// step's source stage when it names one. A directory source copies its
// contents. A destination ending in "/", or any destination of a step with
// several sources, names a directory receiving each file under its own name.
func executeCopy(ctx context.Context, ctr Container, step *manifest.Step, workdir, buildCtx string, stages map[string]Container) error {
	dest, err := resolveDest(step.Dest, workdir)
	if err != nil {
		return crex.Wrap(ErrCopy, err)
	}
	intoDir := len(step.Sources) > 1 || strings.HasSuffix(dest, "/")

	var srcCtr Container
	if step.From != "" {
		var ok bool
		if srcCtr, ok = stages[step.From]; !ok {
			return crex.Wrapf(ErrCopy, "unknown stage %q", step.From)
		}
	}

	for _, src := range step.Sources {
		if srcCtr != nil {
			err = copyStageSource(ctx, ctr, srcCtr, path.Join("/", src), dest, intoDir)
		} else {
			err = copyHostSource(ctx, ctr, src, dest, buildCtx, intoDir)
		}
		if err != nil {
			return crex.Wrapf(ErrCopy, "%s: %w", src, err)
		}
	}

	return nil
}

// Copies a build context path into the container.
func copyHostSource(ctx context.Context, ctr Container, src, dest, buildCtx string, intoDir bool) error {
	hostPath, err := contextPath(buildCtx, src)
	if err != nil {
		return err
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		return err
	}

	target := copyTarget(src, dest, info.IsDir(), intoDir)
	if err := ctr.MkdirAll(ctx, path.Dir(target)); err != nil {
		return err
	}

	slog.Debug("copy", "src", hostPath, "dest", target, "dir", info.IsDir())

	pr, pw := io.Pipe()

	go func() {
		tw := tar.NewWriter(pw)
		var writeErr error

		if info.IsDir() {
			writeErr = writeDirToTar(tw, hostPath, entryName(target))
		} else {
			writeErr = writeFileToTar(tw, hostPath, entryName(target))
		}

		if closeErr := tw.Close(); writeErr == nil {
			writeErr = closeErr
		}
		pw.CloseWithError(writeErr)
	}()

	return ctr.CopyTo(ctx, pr, path.Dir(target))
}

// Copies a path of another stage into the container.
func copyStageSource(ctx context.Context, ctr, srcCtr Container, src, dest string, intoDir bool) error {
	isDir, err := srcCtr.DirExists(ctx, src)
	if err != nil {
		return err
	}

	target := copyTarget(src, dest, isDir, intoDir)
	if err := ctr.MkdirAll(ctx, path.Dir(target)); err != nil {
		return err
	}

	slog.Debug("cross-stage copy", "src", src, "dest", target, "dir", isDir)
	return copyFromStage(ctx, ctr, srcCtr, src, target)
}

// Streams src from one container to target in another.
//
// The archive produced by the source container is rewritten on the fly so
// its root entry is named after target, then extracted in target's parent.
func copyFromStage(ctx context.Context, ctr, srcCtr Container, src, target string) error {
	archived, archive := io.Pipe()
	renamed, rename := io.Pipe()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srcCtr.CopyFrom(gctx, archive, src)
		archive.CloseWithError(err)
		return err
	})

	g.Go(func() error {
		err := retarget(archived, rename, path.Base(src), entryName(target))
		archived.CloseWithError(err)
		rename.CloseWithError(err)
		return err
	})

	g.Go(func() error {
		err := ctr.CopyTo(gctx, renamed, path.Dir(target))
		renamed.CloseWithError(err)
		return err
	})

	return g.Wait()
}

// Resolves a copy destination against the working directory, keeping a
// trailing slash.
func resolveDest(dest, workdir string) (string, error) {
	if path.IsAbs(dest) {
		return dest, nil
	}
	if workdir == "" {
		return "", fmt.Errorf("relative destination %q requires a workdir", dest)
	}
	joined := path.Join(workdir, dest)
	if strings.HasSuffix(dest, "/") && joined != "/" {
		joined += "/"
	}
	return joined, nil
}

// Returns the path a source lands at.
//
// Directories land at the destination itself, so their contents are
// copied. Files land inside the destination when it names a directory.
func copyTarget(src, dest string, isDir, intoDir bool) string {
	if intoDir && !isDir {
		return path.Join(dest, path.Base(src))
	}
	return path.Clean(dest)
}

// Returns the archive name of target's root entry, relative to its parent.
func entryName(target string) string {
	if target == "/" {
		return "."
	}
	return path.Base(target)
}

// Resolves a source against the build context, refusing paths that leave it.
func contextPath(buildCtx, src string) (string, error) {
	p := filepath.Join(buildCtx, filepath.FromSlash(src))
	rel, err := filepath.Rel(buildCtx, p)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("source %q is outside the build context", src)
	}
	return p, nil
}

// Copies a tar stream, renaming the root entry from to to.
func retarget(r io.Reader, w io.Writer, from, to string) error {
	tr := tar.NewReader(r)
	tw := tar.NewWriter(w)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		header.Name = renameEntry(header.Name, from, to)
		if header.Typeflag == tar.TypeLink {
			header.Linkname = renameEntry(header.Linkname, from, to)
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if _, err := io.Copy(tw, tr); err != nil {
			return err
		}
	}

	return tw.Close()
}

// Renames an archive entry whose root component is from.
func renameEntry(name, from, to string) string {
	trimmed := strings.TrimSuffix(name, "/")
	slash := len(trimmed) < len(name)

	var out string
	switch {
	case trimmed == from:
		out = to
	case strings.HasPrefix(trimmed, from+"/"):
		out = path.Join(to, strings.TrimPrefix(trimmed, from+"/"))
	default:
		return name
	}

	if slash && out != "." {
		out += "/"
	}
	return out
}

// Writes a single file to a tar writer with the given archive name.
func writeFileToTar(tw *tar.Writer, hostPath, name string) error {
	info, err := os.Stat(hostPath)
	if err != nil {
		return err
	}

	header, err := tarHeader(info, hostPath, name)
	if err != nil {
		return err
	}

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// Writes a directory tree to a tar writer rooted at the given archive prefix.
func writeDirToTar(tw *tar.Writer, hostDir, prefix string) error {
	return filepath.WalkDir(hostDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(hostDir, p)
		if err != nil {
			return err
		}

		archivePath := path.Join(prefix, filepath.ToSlash(relPath))
		return writeTarEntry(tw, p, archivePath, d)
	})
}

// Writes a single file, directory or symlink entry to a tar writer.
func writeTarEntry(tw *tar.Writer, hostPath, archivePath string, d os.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	header, err := tarHeader(info, hostPath, archivePath)
	if err != nil {
		return err
	}

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if info.Mode().IsRegular() {
		f, err := os.Open(hostPath)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	}

	return nil
}

// Builds a root-owned tar header for a host file.
func tarHeader(info os.FileInfo, hostPath, name string) (*tar.Header, error) {
	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(hostPath)
		if err != nil {
			return nil, err
		}
		link = target
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return nil, err
	}
	header.Name = name
	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = "", ""
	return header, nil
}
