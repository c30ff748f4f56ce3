package confine

import (
	"archive/tar"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/cruciblehq/cruxship/internal/crex"
)

// Size of the window content is searched in.
const chunkSize = 64 << 10

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	tarMagic  = []byte("ustar")
)

// Offset of the magic field in a tar header.
const tarMagicOffset = 257

// Location of credential material inside an image archive.
type Finding struct {
	Blob   string // Archive entry holding the material.
	Path   string // File inside the layer, empty when the blob itself matched.
	Needle int    // Index of the matching needle.
	InName bool   // The needle occurs in the file name rather than its content.
}

func (f Finding) String() string {
	where := f.Blob
	if f.Path != "" {
		where += ":" + f.Path
	}
	if f.InName {
		return fmt.Sprintf("%s (name matches needle %d)", where, f.Needle)
	}
	return fmt.Sprintf("%s (content matches needle %d)", where, f.Needle)
}

// Searches an image archive for any of the needles.
//
// Empty needles are ignored. With no needles left there is nothing to find
// and the archive is not read.
func ScanArchive(r io.Reader, needles [][]byte) ([]Finding, error) {
	s := newScanner(needles)
	if len(s.needles) == 0 {
		return nil, nil
	}

	tr := tar.NewReader(r)
	var findings []Finding
	blobs := 0

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, crex.Wrap(ErrScan, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		found, err := s.blob(header.Name, tr)
		if err != nil {
			return nil, crex.Wrapf(ErrScan, "%s: %w", header.Name, err)
		}
		findings = append(findings, found...)
		blobs++
	}

	slog.Debug("image archive scanned", "blobs", blobs, "needles", len(s.needles), "findings", len(findings))
	return findings, nil
}

type scanner struct {
	needles [][]byte
	longest int
}

func newScanner(needles [][]byte) *scanner {
	s := &scanner{}
	for _, n := range needles {
		if len(n) == 0 {
			continue
		}
		s.needles = append(s.needles, n)
		s.longest = max(s.longest, len(n))
	}
	return s
}

// Scans one archive entry, descending into it when it is a layer.
func (s *scanner) blob(name string, r io.Reader) ([]Finding, error) {
	br, closer, err := decompress(r)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		defer closer()
	}

	head, _ := br.Peek(tarMagicOffset + len(tarMagic))
	if len(head) == tarMagicOffset+len(tarMagic) && bytes.Equal(head[tarMagicOffset:], tarMagic) {
		return s.layer(name, br)
	}

	i, err := s.search(br)
	if err != nil {
		return nil, err
	}
	if i < 0 {
		return nil, nil
	}
	return []Finding{{Blob: name, Needle: i}}, nil
}

// Scans every file of a layer.
func (s *scanner) layer(blob string, r io.Reader) ([]Finding, error) {
	tr := tar.NewReader(r)
	var findings []Finding

	for {
		header, err := tr.Next()
		if err == io.EOF {
			return findings, nil
		}
		if err != nil {
			return nil, err
		}

		if i := s.match([]byte(header.Name + "\x00" + header.Linkname)); i >= 0 {
			findings = append(findings, Finding{Blob: blob, Path: header.Name, Needle: i, InName: true})
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}
		i, err := s.search(tr)
		if err != nil {
			return nil, err
		}
		if i >= 0 {
			findings = append(findings, Finding{Blob: blob, Path: header.Name, Needle: i})
		}
	}
}

// Returns the index of the first needle found in r, or -1.
//
// Content is read in chunks. The tail of each chunk is carried into the
// next so a needle spanning a chunk boundary is still found.
func (s *scanner) search(r io.Reader) (int, error) {
	buf := make([]byte, 0, chunkSize+s.longest)
	chunk := make([]byte, chunkSize)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if i := s.match(buf); i >= 0 {
				return i, nil
			}
			if keep := s.longest - 1; len(buf) > keep {
				buf = append(buf[:0], buf[len(buf)-keep:]...)
			}
		}
		if err == io.EOF {
			return -1, nil
		}
		if err != nil {
			return -1, err
		}
	}
}

func (s *scanner) match(b []byte) int {
	for i, n := range s.needles {
		if bytes.Contains(b, n) {
			return i
		}
	}
	return -1
}

// Wraps r in a decompressor when it starts with a gzip or zstd header.
func decompress(r io.Reader) (*bufio.Reader, func(), error) {
	br := bufio.NewReaderSize(r, chunkSize)
	magic, _ := br.Peek(len(zstdMagic))

	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		zr, err := pgzip.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return bufio.NewReaderSize(zr, chunkSize), func() { zr.Close() }, nil

	case bytes.HasPrefix(magic, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return bufio.NewReaderSize(zr, chunkSize), zr.Close, nil
	}

	return br, nil, nil
}
