package cli

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"

	"github.com/cruciblehq/cruxship/internal/cache"
)

// Represents the 'cruxship cache' command group.
type CacheCmd struct {
	Ls    CacheLsCmd    `cmd:"" help:"List cache mounts."`
	Prune CachePruneCmd `cmd:"" help:"Remove cache mounts."`
}

// Represents the 'cruxship cache ls' command.
type CacheLsCmd struct{}

// Executes the cache ls command.
func (c *CacheLsCmd) Run(ctx context.Context) error {
	store, err := cache.OpenLocal(cache.LocalOptions{})
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(ctx)
	if err != nil {
		return err
	}
	return writeEntries(os.Stdout, entries, time.Now())
}

// Represents the 'cruxship cache prune' command.
type CachePruneCmd struct {
	OlderThan time.Duration `help:"Only remove caches unused for this long. Zero removes all." default:"0s" placeholder:"DURATION"`
}

// Executes the cache prune command.
func (c *CachePruneCmd) Run(ctx context.Context) error {
	store, err := cache.OpenLocal(cache.LocalOptions{})
	if err != nil {
		return err
	}
	defer store.Close()

	pruned, err := store.Prune(ctx, c.OlderThan)
	for _, e := range pruned {
		fmt.Println(e.Key)
	}
	if err != nil {
		return err
	}

	slog.Info("caches pruned", "count", len(pruned))
	return nil
}

// Writes one row per cache directory.
func writeEntries(w io.Writer, entries []cache.Entry, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTARGET\tSIZE\tUSES\tLAST USED")

	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s ago\n",
			e.Key,
			e.Target,
			units.HumanSize(float64(dirSize(e.Dir))),
			e.Uses,
			units.HumanDuration(now.Sub(e.LastUsed)),
		)
	}

	return tw.Flush()
}

// Returns the total size of the regular files under dir. Unreadable
// entries are skipped.
func dirSize(dir string) int64 {
	var size int64
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size
}
