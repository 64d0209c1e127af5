package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/animus-labs/release-registry/internal/domain"
	"github.com/animus-labs/release-registry/internal/repo"
	"github.com/animus-labs/release-registry/internal/versionkey"
)

const (
	releaseColumns = `id, program, sort_key, version, release_notes, is_latest, is_unstable, show_in_changelog, created_at`

	// Sort keys are compared bytewise regardless of the database locale.
	orderBySortKey = `ORDER BY sort_key COLLATE "C" ASC`
)

type ReleaseStore struct {
	db DB
}

func NewReleaseStore(db DB) *ReleaseStore {
	if db == nil {
		return nil
	}
	return &ReleaseStore{db: db}
}

func (s *ReleaseStore) Insert(ctx context.Context, release domain.Release) (domain.Release, error) {
	if s == nil || s.db == nil {
		return domain.Release{}, fmt.Errorf("release store not initialized")
	}
	release.Program = domain.NormalizeProgram(release.Program)
	if err := release.Validate(); err != nil {
		return domain.Release{}, err
	}
	notesJSON, err := repo.EncodeNotes(release.ReleaseNotes)
	if err != nil {
		return domain.Release{}, fmt.Errorf("encode release notes: %w", err)
	}

	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO releases (`+releaseColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 RETURNING created_at`,
		release.ID,
		release.Program,
		release.SortKey,
		release.Version,
		notesJSON,
		release.IsLatest,
		release.IsUnstable,
		release.ShowInChangelog,
		normalizeTime(release.CreatedAt),
	)
	if err := row.Scan(&release.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.Release{}, repo.ErrConflict
		}
		return domain.Release{}, fmt.Errorf("insert release: %w", err)
	}
	release.CreatedAt = release.CreatedAt.UTC()
	release.ReleaseNotes = release.CloneNotes()
	return release, nil
}

func (s *ReleaseStore) GetLatest(ctx context.Context, program string) (domain.Release, error) {
	if s == nil || s.db == nil {
		return domain.Release{}, fmt.Errorf("release store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE program = $1 AND is_latest`,
		domain.NormalizeProgram(program),
	)
	release, err := scanRelease(row)
	if err != nil {
		return domain.Release{}, handleNotFound(err)
	}
	return release, nil
}

func (s *ReleaseStore) GetByVersion(ctx context.Context, program, version string) (domain.Release, bool, error) {
	if s == nil || s.db == nil {
		return domain.Release{}, false, fmt.Errorf("release store not initialized")
	}
	release, err := getBySortKey(ctx, s.db, domain.NormalizeProgram(program), versionkey.Encode(version), false)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE program = $1 `+orderBySortKey,
		domain.NormalizeProgram(program),
	)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Release, 0)
	for rows.Next() {
		release, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, release)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	return out, nil
}

// Promote locks the target row, clears the previous latest and flags the
// target in one transaction. Concurrent promotions of the same program
// serialise on the partial unique index.
func (s *ReleaseStore) Promote(ctx context.Context, program, version string) (domain.Release, error) {
	if s == nil || s.db == nil {
		return domain.Release{}, fmt.Errorf("release store not initialized")
	}
	program = domain.NormalizeProgram(program)
	sortKey := versionkey.Encode(version)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Release{}, fmt.Errorf("begin promote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := getBySortKey(ctx, tx, program, sortKey, true); err != nil {
		return domain.Release{}, handleNotFound(err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE releases SET is_latest = FALSE WHERE program = $1 AND is_latest AND sort_key <> $2`,
		program, sortKey,
	); err != nil {
		return domain.Release{}, fmt.Errorf("clear latest: %w", err)
	}
	row := tx.QueryRowContext(ctx,
		`UPDATE releases SET is_latest = TRUE, is_unstable = FALSE
		 WHERE program = $1 AND sort_key = $2
		 RETURNING `+releaseColumns,
		program, sortKey,
	)
	promoted, err := scanRelease(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Release{}, repo.ErrConflict
		}
		return domain.Release{}, fmt.Errorf("set latest: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Release{}, fmt.Errorf("commit promote: %w", err)
	}
	return promoted, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBySortKey(ctx context.Context, q queryRower, program, sortKey string, forUpdate bool) (domain.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases WHERE program = $1 AND sort_key = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanRelease(q.QueryRowContext(ctx, query, program, sortKey))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRelease(row scanner) (domain.Release, error) {
	var (
		release   domain.Release
		notesJSON []byte
	)
	if err := row.Scan(
		&release.ID,
		&release.Program,
		&release.SortKey,
		&release.Version,
		&notesJSON,
		&release.IsLatest,
		&release.IsUnstable,
		&release.ShowInChangelog,
		&release.CreatedAt,
	); err != nil {
		return domain.Release{}, err
	}
	notes, err := repo.DecodeNotes(notesJSON)
	if err != nil {
		return domain.Release{}, fmt.Errorf("decode release notes: %w", err)
	}
	release.ReleaseNotes = notes
	release.CreatedAt = release.CreatedAt.UTC()
	return release, nil
}

var _ repo.ReleaseRepository = (*ReleaseStore)(nil)
