// Package pebble stores releases in an embedded Pebble key-value store for
// single-node deployments.
package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/animus-labs/release-registry/internal/domain"
	pebblestore "github.com/animus-labs/release-registry/internal/platform/pebble"
	"github.com/animus-labs/release-registry/internal/repo"
	"github.com/animus-labs/release-registry/internal/versionkey"
)

type record struct {
	ID              string          `json:"id"`
	Program         string          `json:"program"`
	SortKey         string          `json:"sortKey"`
	Version         string          `json:"version"`
	ReleaseNotes    json.RawMessage `json:"releaseNotes"`
	IsLatest        bool            `json:"isLatest"`
	IsUnstable      bool            `json:"isUnstable"`
	ShowInChangelog bool            `json:"showInChangelog"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// ReleaseStore serialises writes with a mutex; Pebble has no conditional
// put, so insert is check-then-set under the lock.
type ReleaseStore struct {
	db *pebblestore.DB
	mu sync.Mutex
}

func NewReleaseStore(db *pebblestore.DB) *ReleaseStore {
	if db == nil {
		return nil
	}
	return &ReleaseStore{db: db}
}

func (s *ReleaseStore) Insert(ctx context.Context, release domain.Release) (domain.Release, error) {
	if s == nil || s.db == nil {
		return domain.Release{}, fmt.Errorf("release store not initialized")
	}
	if err := ctx.Err(); err != nil {
		return domain.Release{}, err
	}
	release.Program = domain.NormalizeProgram(release.Program)
	if err := release.Validate(); err != nil {
		return domain.Release{}, err
	}
	if release.CreatedAt.IsZero() {
		release.CreatedAt = time.Now()
	}
	release.CreatedAt = release.CreatedAt.UTC()
	value, err := encodeRecord(release)
	if err != nil {
		return domain.Release{}, err
	}
	key := releaseKey(release.Program, release.SortKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Get(key); err == nil {
		return domain.Release{}, repo.ErrConflict
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return domain.Release{}, fmt.Errorf("check release: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, value, nil); err != nil {
		return domain.Release{}, fmt.Errorf("insert release: %w", err)
	}
	if release.IsLatest {
		if _, err := s.db.Get(latestKey(release.Program)); err == nil {
			return domain.Release{}, repo.ErrConflict
		}
		if err := b.Set(latestKey(release.Program), []byte(release.SortKey), nil); err != nil {
			return domain.Release{}, fmt.Errorf("insert release: %w", err)
		}
	}
	if err := s.db.CommitBatch(b); err != nil {
		return domain.Release{}, fmt.Errorf("insert release: %w", err)
	}
	release.ReleaseNotes = release.CloneNotes()
	return release, nil
}

func (s *ReleaseStore) GetLatest(ctx context.Context, program string) (domain.Release, error) {
	if s == nil || s.db == nil {
		return domain.Release{}, fmt.Errorf("release store not initialized")
	}
	if err := ctx.Err(); err != nil {
		return domain.Release{}, err
	}
	program = domain.NormalizeProgram(program)
	sortKey, err := s.db.Get(latestKey(program))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return domain.Release{}, repo.ErrNotFound
	}
	if err != nil {
		return domain.Release{}, fmt.Errorf("get latest: %w", err)
	}
	release, err := s.get(program, string(sortKey))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return domain.Release{}, repo.ErrNotFound
	}
	return release, err
}

func (s *ReleaseStore) GetByVersion(ctx context.Context, program, version string) (domain.Release, bool, error) {
	if s == nil || s.db == nil {
		return domain.Release{}, false, fmt.Errorf("release store not initialized")
	}
	if err := ctx.Err(); err != nil {
		return domain.Release{}, false, err
	}
	release, err := s.get(domain.NormalizeProgram(program), versionkey.Encode(version))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return domain.Release{}, false, nil
	}
	if err != nil {
		return domain.Release{}, false, err
	}
	return release, true, nil
}

func (s *ReleaseStore) ListAll(ctx context.Context, program string) ([]domain.Release, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("release store not initialized")
	}
	out := make([]domain.Release, 0)
	err := s.db.ScanPrefix(releasePrefix(domain.NormalizeProgram(program)), func(_, value []byte) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		release, err := decodeRecord(value)
		if err != nil {
			return false, err
		}
		out = append(out, release)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	return out, nil
}

func (s *ReleaseStore) Promote(ctx context.Context, program, version string) (domain.Release, error) {
	if s == nil || s.db == nil {
		return domain.Release{}, fmt.Errorf("release store not initialized")
	}
	if err := ctx.Err(); err != nil {
		return domain.Release{}, err
	}
	program = domain.NormalizeProgram(program)
	sortKey := versionkey.Encode(version)

	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.get(program, sortKey)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return domain.Release{}, repo.ErrNotFound
	}
	if err != nil {
		return domain.Release{}, err
	}

	b := s.db.NewBatch()
	defer b.Close()

	prevKey, err := s.db.Get(latestKey(program))
	switch {
	case err == nil && string(prevKey) != sortKey:
		prev, err := s.get(program, string(prevKey))
		if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
			return domain.Release{}, err
		}
		if err == nil {
			prev.IsLatest = false
			value, err := encodeRecord(prev)
			if err != nil {
				return domain.Release{}, err
			}
			if err := b.Set(releaseKey(program, prev.SortKey), value, nil); err != nil {
				return domain.Release{}, fmt.Errorf("clear latest: %w", err)
			}
		}
	case err != nil && !errors.Is(err, pebblestore.ErrNotFound):
		return domain.Release{}, fmt.Errorf("get latest: %w", err)
	}

	target.IsLatest = true
	target.IsUnstable = false
	value, err := encodeRecord(target)
	if err != nil {
		return domain.Release{}, err
	}
	if err := b.Set(releaseKey(program, sortKey), value, nil); err != nil {
		return domain.Release{}, fmt.Errorf("set latest: %w", err)
	}
	if err := b.Set(latestKey(program), []byte(sortKey), nil); err != nil {
		return domain.Release{}, fmt.Errorf("set latest: %w", err)
	}
	if err := s.db.CommitBatch(b); err != nil {
		return domain.Release{}, fmt.Errorf("commit promote: %w", err)
	}
	return target, nil
}

// Ping reports whether the underlying store is usable.
func (s *ReleaseStore) Ping(context.Context) error {
	if s == nil {
		return errors.New("release store not initialized")
	}
	return s.db.Ping()
}

func (s *ReleaseStore) get(program, sortKey string) (domain.Release, error) {
	value, err := s.db.Get(releaseKey(program, sortKey))
	if err != nil {
		return domain.Release{}, err
	}
	return decodeRecord(value)
}

func encodeRecord(release domain.Release) ([]byte, error) {
	notes, err := repo.EncodeNotes(release.ReleaseNotes)
	if err != nil {
		return nil, fmt.Errorf("encode release notes: %w", err)
	}
	value, err := json.Marshal(record{
		ID:              release.ID,
		Program:         release.Program,
		SortKey:         release.SortKey,
		Version:         release.Version,
		ReleaseNotes:    notes,
		IsLatest:        release.IsLatest,
		IsUnstable:      release.IsUnstable,
		ShowInChangelog: release.ShowInChangelog,
		CreatedAt:       release.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode release: %w", err)
	}
	return value, nil
}

func decodeRecord(value []byte) (domain.Release, error) {
	var rec record
	if err := json.Unmarshal(value, &rec); err != nil {
		return domain.Release{}, fmt.Errorf("decode release: %w", err)
	}
	notes, err := repo.DecodeNotes(rec.ReleaseNotes)
	if err != nil {
		return domain.Release{}, fmt.Errorf("decode release notes: %w", err)
	}
	return domain.Release{
		ID:              rec.ID,
		Program:         rec.Program,
		SortKey:         rec.SortKey,
		Version:         rec.Version,
		ReleaseNotes:    notes,
		IsLatest:        rec.IsLatest,
		IsUnstable:      rec.IsUnstable,
		ShowInChangelog: rec.ShowInChangelog,
		CreatedAt:       rec.CreatedAt.UTC(),
	}, nil
}

var _ repo.ReleaseRepository = (*ReleaseStore)(nil)
