package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/animus-labs/release-registry/internal/domain"
	"github.com/animus-labs/release-registry/internal/repo"
	"github.com/animus-labs/release-registry/internal/versionkey"
)

const releaseColumns = `id, program, sort_key, version, release_notes, is_latest, is_unstable, show_in_changelog, created_at`

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
	release.CreatedAt = normalizeTime(release.CreatedAt)

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO releases (`+releaseColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		release.ID,
		release.Program,
		release.SortKey,
		release.Version,
		string(notesJSON),
		release.IsLatest,
		release.IsUnstable,
		release.ShowInChangelog,
		formatTime(release.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return domain.Release{}, repo.ErrConflict
		}
		return domain.Release{}, fmt.Errorf("insert release: %w", err)
	}
	release.ReleaseNotes = release.CloneNotes()
	return release, nil
}

func (s *ReleaseStore) GetLatest(ctx context.Context, program string) (domain.Release, error) {
	if s == nil || s.db == nil {
		return domain.Release{}, fmt.Errorf("release store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE program = ? AND is_latest = 1`,
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
	release, err := getBySortKey(ctx, s.db, domain.NormalizeProgram(program), versionkey.Encode(version))
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
		`SELECT `+releaseColumns+` FROM releases WHERE program = ? ORDER BY sort_key ASC`,
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

	if _, err := getBySortKey(ctx, tx, program, sortKey); err != nil {
		return domain.Release{}, handleNotFound(err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE releases SET is_latest = 0 WHERE program = ? AND is_latest = 1`,
		program,
	); err != nil {
		return domain.Release{}, fmt.Errorf("clear latest: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE releases SET is_latest = 1, is_unstable = 0 WHERE program = ? AND sort_key = ?`,
		program, sortKey,
	); err != nil {
		return domain.Release{}, fmt.Errorf("set latest: %w", err)
	}
	promoted, err := getBySortKey(ctx, tx, program, sortKey)
	if err != nil {
		return domain.Release{}, fmt.Errorf("reload promoted release: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Release{}, fmt.Errorf("commit promote: %w", err)
	}
	return promoted, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBySortKey(ctx context.Context, q queryRower, program, sortKey string) (domain.Release, error) {
	row := q.QueryRowContext(
		ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE program = ? AND sort_key = ?`,
		program, sortKey,
	)
	return scanRelease(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRelease(row scanner) (domain.Release, error) {
	var (
		release   domain.Release
		notesJSON string
		createdAt string
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
		&createdAt,
	); err != nil {
		return domain.Release{}, err
	}
	notes, err := repo.DecodeNotes([]byte(notesJSON))
	if err != nil {
		return domain.Release{}, fmt.Errorf("decode release notes: %w", err)
	}
	release.ReleaseNotes = notes
	if release.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Release{}, err
	}
	return release, nil
}

var _ repo.ReleaseRepository = (*ReleaseStore)(nil)
