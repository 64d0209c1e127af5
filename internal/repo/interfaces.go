package repo

import (
	"context"
	"errors"

	"github.com/animus-labs/release-registry/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// ReleaseRepository stores releases partitioned by program and ordered by
// sort key. Every method normalizes the program name before querying.
type ReleaseRepository interface {
	// Insert stores a new release and returns it with CreatedAt assigned.
	// A second insert for the same program and sort key fails with ErrConflict.
	Insert(ctx context.Context, release domain.Release) (domain.Release, error)

	// GetLatest returns the promoted release, or ErrNotFound.
	GetLatest(ctx context.Context, program string) (domain.Release, error)

	// GetByVersion looks up the exact sort key of version. A version that was
	// never ingested is reported as (zero, false, nil).
	GetByVersion(ctx context.Context, program, version string) (domain.Release, bool, error)

	// ListAll returns every release of program in ascending sort key order,
	// i.e. newest first, hidden releases included.
	ListAll(ctx context.Context, program string) ([]domain.Release, error)

	// Promote makes version the only latest release of program and clears
	// its unstable flag. ErrNotFound if the version was never ingested.
	Promote(ctx context.Context, program, version string) (domain.Release, error)
}
