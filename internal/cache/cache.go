package cache

import (
	"context"
	"time"

	"github.com/cruciblehq/cruxship/internal/mount"
)

// Named, addressable store of cache directories.
type Store interface {

	// Returns the host directory backing a cache mount, creating it empty if
	// it does not exist, and records the use.
	Acquire(ctx context.Context, m mount.Mount) (string, error)

	// Returns every known cache directory.
	List(ctx context.Context) ([]Entry, error)

	// Removes cache directories not used within olderThan. Zero removes all.
	Prune(ctx context.Context, olderThan time.Duration) ([]Entry, error)

	// Releases the store.
	Close() error
}

// Recorded state of one cache directory.
type Entry struct {
	Key      string    `json:"key"`
	Target   string    `json:"target"`
	Dir      string    `json:"dir"`
	Created  time.Time `json:"created"`
	LastUsed time.Time `json:"last_used"`
	Uses     int       `json:"uses"`
}

// Updates the entry for a new use at now.
func (e *Entry) touch(m mount.Mount, dir string, now time.Time) {
	if e.Created.IsZero() {
		e.Created = now
	}
	e.Key = m.CacheKey()
	e.Target = m.Target
	e.Dir = dir
	e.LastUsed = now
	e.Uses++
}

// Whether the entry should be removed by a prune at now.
func (e *Entry) stale(now time.Time, olderThan time.Duration) bool {
	return olderThan == 0 || now.Sub(e.LastUsed) > olderThan
}
