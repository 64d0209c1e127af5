package releases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/release-registry/internal/domain"
	"github.com/animus-labs/release-registry/internal/repo"
	"github.com/animus-labs/release-registry/internal/versionkey"
)

type Linker interface {
	LinkFor(ctx context.Context, program, version string) (string, error)
}

// Notifier is told about every successfully ingested release.
type Notifier interface {
	ReleaseIngested(ctx context.Context, release domain.Release) error
}

// DefaultNotifyTimeout bounds all notifiers of one ingest together.
const DefaultNotifyTimeout = 10 * time.Second

type Service struct {
	repo          repo.ReleaseRepository
	linker        Linker
	notifiers     []Notifier
	notifyTimeout time.Duration
	logger        *slog.Logger
	newID         func() string
}

func NewService(releases repo.ReleaseRepository, linker Linker, logger *slog.Logger, notifiers ...Notifier) (*Service, error) {
	if releases == nil {
		return nil, errors.New("release repository is required")
	}
	if linker == nil {
		return nil, errors.New("artifact linker is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	active := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &Service{
		repo:          releases,
		linker:        linker,
		notifiers:     active,
		notifyTimeout: DefaultNotifyTimeout,
		logger:        logger,
		newID:         uuid.NewString,
	}, nil
}

// Ingest decodes a release event and stores it as a new unstable release.
// A version that was already ingested for the program fails with
// repo.ErrConflict.
func (s *Service) Ingest(ctx context.Context, program string, payload io.Reader) (domain.Release, error) {
	if s == nil || s.repo == nil {
		return domain.Release{}, errors.New("release service not initialized")
	}
	program = domain.NormalizeProgram(program)
	if program == "" {
		return domain.Release{}, domain.NewValidationError("program", "is required")
	}
	ev, err := DecodeEvent(payload)
	if err != nil {
		return domain.Release{}, err
	}

	version := ev.Version()
	release := domain.Release{
		ID:              s.newID(),
		Program:         program,
		SortKey:         versionkey.Encode(version),
		Version:         version,
		ReleaseNotes:    ev.Notes(),
		IsLatest:        false,
		IsUnstable:      true,
		ShowInChangelog: true,
	}
	stored, err := s.repo.Insert(ctx, release)
	if err != nil {
		return domain.Release{}, fmt.Errorf("ingest %s %s: %w", program, version, err)
	}
	s.logger.Info("release ingested",
		"program", stored.Program,
		"version", stored.Version,
		"sort_key", stored.SortKey,
		"notes", len(stored.ReleaseNotes),
	)

	s.notify(ctx, stored)
	return stored, nil
}

// SetNotifyTimeout changes how long notifiers may hold up an ingest.
func (s *Service) SetNotifyTimeout(d time.Duration) {
	if s != nil && d > 0 {
		s.notifyTimeout = d
	}
}

// notify runs after the release is committed, so its failures are only
// logged.
func (s *Service) notify(ctx context.Context, stored domain.Release) {
	if len(s.notifiers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()
	for _, n := range s.notifiers {
		if err := n.ReleaseIngested(ctx, stored); err != nil {
			s.logger.Warn("release notification failed",
				"program", stored.Program,
				"version", stored.Version,
				"error", err,
			)
		}
	}
}

// CheckVersion compares callerVersion with the program's latest release.
// A program without a promoted release fails with repo.ErrNotFound.
func (s *Service) CheckVersion(ctx context.Context, program, callerVersion string) (VersionCheck, error) {
	if s == nil || s.repo == nil {
		return VersionCheck{}, errors.New("release service not initialized")
	}
	program = domain.NormalizeProgram(program)
	if program == "" {
		return VersionCheck{}, domain.NewValidationError("program", "is required")
	}

	latest, err := s.repo.GetLatest(ctx, program)
	if err != nil {
		return VersionCheck{}, fmt.Errorf("latest release of %s: %w", program, err)
	}
	if callerVersion == latest.Version {
		return VersionCheck{IsLatest: true}, nil
	}

	caller, found, err := s.repo.GetByVersion(ctx, program, callerVersion)
	if err != nil {
		return VersionCheck{}, fmt.Errorf("release %s %s: %w", program, callerVersion, err)
	}
	download, err := s.linker.LinkFor(ctx, program, callerVersion)
	if err != nil {
		return VersionCheck{}, fmt.Errorf("download link for %s %s: %w", program, callerVersion, err)
	}
	return VersionCheck{
		IsLatest:      false,
		IsUnstable:    found && caller.IsUnstable,
		LatestVersion: latest.SortKey,
		Download:      download,
	}, nil
}

// Changelog lists the program's visible releases newest first, in store
// order. Only the latest and unstable releases carry a download link.
func (s *Service) Changelog(ctx context.Context, program string) ([]ChangelogEntry, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("release service not initialized")
	}
	program = domain.NormalizeProgram(program)
	if program == "" {
		return nil, domain.NewValidationError("program", "is required")
	}

	records, err := s.repo.ListAll(ctx, program)
	if err != nil {
		return nil, fmt.Errorf("list releases of %s: %w", program, err)
	}

	out := make([]ChangelogEntry, 0, len(records))
	for _, r := range records {
		if !r.ShowInChangelog {
			continue
		}
		var download string
		if r.IsLatest || r.IsUnstable {
			download, err = s.linker.LinkFor(ctx, program, r.Version)
			if err != nil {
				return nil, fmt.Errorf("download link for %s %s: %w", program, r.Version, err)
			}
		}
		out = append(out, ChangelogEntry{
			Version:      r.SortKey,
			ReleaseNotes: GroupNotes(r.ReleaseNotes),
			Date:         formatDate(r.CreatedAt),
			Unstable:     r.IsUnstable,
			VersionStamp: r.Version,
			Latest:       r.IsLatest,
			DownloadURL:  download,
		})
	}
	return out, nil
}

// Promote makes version the program's latest stable release.
func (s *Service) Promote(ctx context.Context, program, version string) (domain.Release, error) {
	if s == nil || s.repo == nil {
		return domain.Release{}, errors.New("release service not initialized")
	}
	program = domain.NormalizeProgram(program)
	if program == "" {
		return domain.Release{}, domain.NewValidationError("program", "is required")
	}
	if !versionkey.Valid(version) {
		return domain.Release{}, domain.NewValidationError("version", fmt.Sprintf("%q is not a dotted numeric version", version))
	}
	promoted, err := s.repo.Promote(ctx, program, version)
	if err != nil {
		return domain.Release{}, fmt.Errorf("promote %s %s: %w", program, version, err)
	}
	s.logger.Info("release promoted", "program", promoted.Program, "version", promoted.Version)
	return promoted, nil
}
