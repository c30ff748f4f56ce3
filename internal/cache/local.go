package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	bolt "go.etcd.io/bbolt"

	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/mount"
	"github.com/cruciblehq/cruxship/internal/paths"
)

// How long opening the index waits for another invocation to release it.
const DefaultLockTimeout = 10 * time.Minute

var mountsBkt = []byte("mounts")

// Cache store on the local filesystem.
type Local struct {
	root string
	db   *bolt.DB
	now  func() time.Time
}

// Options for [OpenLocal].
type LocalOptions struct {
	Root        string        // Directory holding cache directories. Defaults to paths.CacheMounts.
	Index       string        // Index database path. Defaults to paths.CacheIndex.
	LockTimeout time.Duration // Wait for a concurrent invocation. Defaults to DefaultLockTimeout.
}

// Opens the local store, waiting for any concurrent invocation holding it.
//
// Returns [ErrBusy] when the lock is not released within the timeout.
func OpenLocal(opts LocalOptions) (*Local, error) {
	if opts.Root == "" {
		opts.Root = paths.CacheMounts()
	}
	if opts.Index == "" {
		opts.Index = paths.CacheIndex()
	}
	if opts.LockTimeout == 0 {
		opts.LockTimeout = DefaultLockTimeout
	}

	if err := os.MkdirAll(opts.Root, paths.DefaultDirMode); err != nil {
		return nil, crex.Wrap(ErrCache, err)
	}
	if err := os.MkdirAll(filepath.Dir(opts.Index), paths.DefaultDirMode); err != nil {
		return nil, crex.Wrap(ErrCache, err)
	}

	slog.Debug("opening cache index", "path", opts.Index)

	db, err := bolt.Open(opts.Index, paths.PrivateFileMode, &bolt.Options{Timeout: opts.LockTimeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, crex.Wrapf(ErrBusy, "%s locked for more than %s", opts.Index, opts.LockTimeout)
		}
		return nil, crex.Wrap(ErrCache, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(mountsBkt)
		return err
	})
	if err != nil {
		db.Close()
		return nil, crex.Wrap(ErrCache, err)
	}

	return &Local{root: opts.Root, db: db, now: time.Now}, nil
}

// Implements [Store].
func (l *Local) Acquire(ctx context.Context, m mount.Mount) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := m.CacheKey()
	dir := filepath.Join(l.root, key)

	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return "", crex.Wrap(ErrCache, err)
	}

	var entry Entry
	err := l.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(mountsBkt)
		if raw := bkt.Get([]byte(key)); raw != nil {
			if err := json.Unmarshal(raw, &entry); err != nil {
				return err
			}
		}
		entry.touch(m, dir, l.now())

		raw, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(key), raw)
	})
	if err != nil {
		return "", crex.Wrap(ErrCache, err)
	}

	slog.Debug("cache acquired", "target", m.Target, "key", key, "uses", entry.Uses)
	return dir, nil
}

// Implements [Store].
func (l *Local) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(mountsBkt).ForEach(func(_, raw []byte) error {
			var e Entry
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, crex.Wrap(ErrCache, err)
	}
	return entries, nil
}

// Implements [Store].
func (l *Local) Prune(ctx context.Context, olderThan time.Duration) ([]Entry, error) {
	now := l.now()
	var pruned []Entry
	var result *multierror.Error

	err := l.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(mountsBkt)

		var stale [][]byte
		err := bkt.ForEach(func(k, raw []byte) error {
			var e Entry
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			if e.stale(now, olderThan) {
				stale = append(stale, append([]byte(nil), k...))
				pruned = append(pruned, e)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, crex.Wrap(ErrCache, err)
	}

	for _, e := range pruned {
		if err := os.RemoveAll(e.Dir); err != nil {
			result = multierror.Append(result, err)
		}
		slog.Info("cache pruned", "target", e.Target, "key", e.Key)
	}

	if err := result.ErrorOrNil(); err != nil {
		return pruned, crex.Wrap(ErrCache, err)
	}
	return pruned, nil
}

// Closes the index and releases the lock.
func (l *Local) Close() error {
	return l.db.Close()
}
