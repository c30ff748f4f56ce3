package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/mount"
)

// Cache store that keeps its index in memory. Directories are created under
// a caller-provided root. Used for dry runs and tests.
type Memory struct {
	root    string
	mu      sync.Mutex
	entries map[string]*Entry
}

// Creates a memory store rooted at dir.
func NewMemory(dir string) *Memory {
	return &Memory{root: dir, entries: make(map[string]*Entry)}
}

// Implements [Store].
func (m *Memory) Acquire(ctx context.Context, mnt mount.Mount) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := mnt.CacheKey()
	dir := filepath.Join(m.root, key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", crex.Wrap(ErrCache, err)
	}

	e, ok := m.entries[key]
	if !ok {
		e = &Entry{}
		m.entries[key] = e
	}
	e.touch(mnt, dir, time.Now())
	return dir, nil
}

// Implements [Store].
func (m *Memory) List(ctx context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Implements [Store].
func (m *Memory) Prune(ctx context.Context, olderThan time.Duration) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var pruned []Entry
	for key, e := range m.entries {
		if !e.stale(now, olderThan) {
			continue
		}
		if err := os.RemoveAll(e.Dir); err != nil {
			return pruned, crex.Wrap(ErrCache, err)
		}
		delete(m.entries, key)
		pruned = append(pruned, *e)
	}
	return pruned, nil
}

// Implements [Store].
func (m *Memory) Close() error {
	return nil
}
