// Package pebblestore wraps an embedded Pebble database: an ordered key-value
// store whose iterators return keys in ascending byte order.
package pebblestore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/animus-labs/release-registry/internal/platform/env"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = pebble.ErrNotFound

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways requests a WAL fsync on each committed batch/write.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble coalesce WAL syncs within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble's own policies.
	FsyncModeNever
)

func ParseFsyncMode(s string) (FsyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "always":
		return FsyncModeAlways, nil
	case "interval":
		return FsyncModeInterval, nil
	case "never":
		return FsyncModeNever, nil
	default:
		return FsyncModeUnspecified, fmt.Errorf("unknown fsync mode %q", s)
	}
}

type Options struct {
	DataDir       string
	Fsync         FsyncMode
	FsyncInterval time.Duration
	// FS overrides the filesystem; tests pass vfs.NewMem().
	FS vfs.FS
}

func OptionsFromEnv() (Options, error) {
	mode, err := ParseFsyncMode(env.String("RELEASES_PEBBLE_FSYNC", "always"))
	if err != nil {
		return Options{}, err
	}
	interval, err := env.Duration("RELEASES_PEBBLE_FSYNC_INTERVAL", 5*time.Millisecond)
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		DataDir:       env.String("RELEASES_PEBBLE_DIR", "./releases.pebble"),
		Fsync:         mode,
		FsyncInterval: interval,
	}
	if strings.TrimSpace(opts.DataDir) == "" {
		return Options{}, errors.New("RELEASES_PEBBLE_DIR is required")
	}
	return opts, nil
}

// DB wraps a Pebble database instance with its fsync policy.
type DB struct {
	inner     *pebble.DB
	writeSync bool
}

func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := &pebble.Options{}
	if opts.FS != nil {
		po.FS = opts.FS
	}
	switch opts.Fsync {
	case FsyncModeAlways, FsyncModeNever:
	case FsyncModeInterval:
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	default:
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &DB{inner: inner, writeSync: opts.Fsync == FsyncModeAlways}, nil
}

func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

func (db *DB) writeOptions() *pebble.WriteOptions {
	if db.writeSync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// NewBatch creates a batch for atomic multi-key updates.
func (db *DB) NewBatch() *pebble.Batch {
	return db.inner.NewBatch()
}

func (db *DB) CommitBatch(b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebble: nil batch")
	}
	return b.Commit(db.writeOptions())
}

func (db *DB) Set(key, value []byte) error {
	return db.inner.Set(key, value, db.writeOptions())
}

// Get copies the value for key. A missing key yields ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// ScanPrefix calls fn for every key with the given prefix in ascending key
// order until fn returns false or an error.
func (db *DB) ScanPrefix(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	it, err := db.inner.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer it.Close()

	for ok := it.First(); ok; ok = it.Next() {
		more, err := fn(it.Key(), it.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return it.Error()
}

// Ping verifies the handle is still usable.
func (db *DB) Ping() error {
	if db == nil || db.inner == nil {
		return errors.New("pebble: not open")
	}
	_, err := db.Get([]byte("\x00ping"))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// prefixUpperBound returns the smallest key greater than every key carrying
// prefix, or nil when no such key exists.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
