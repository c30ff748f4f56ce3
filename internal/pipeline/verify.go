package pipeline

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/cruciblehq/cruxship/internal/confine"
	"github.com/cruciblehq/cruxship/internal/crex"
)

// Scans the exported image for credential material.
//
// The export is streamed through the scanner. Any finding fails with
// [ErrLeak]; findings are logged by location only.
func (d *Driver) verify(ctx context.Context, imageID string, needles [][]byte) error {
	if len(needles) == 0 {
		slog.Debug("no credential material to scan for")
		return nil
	}

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := d.engine.Export(gctx, imageID, pw)
		pw.CloseWithError(err)
		return err
	})

	var findings []confine.Finding
	g.Go(func() error {
		var err error
		findings, err = confine.ScanArchive(pr, needles)
		if err == nil {
			_, err = io.Copy(io.Discard, pr)
		}
		pr.CloseWithError(err)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	for _, f := range findings {
		slog.Error("credential material in image", "location", f.String())
	}
	if len(findings) > 0 {
		return crex.Wrapf(ErrLeak, "%d locations, first at %s", len(findings), findings[0])
	}

	slog.Info("image verified", "needles", len(needles))
	return nil
}
