package domain

import (
	"strconv"
	"strings"
	"time"
)

// Release is one published version of a program. Version, SortKey and
// ReleaseNotes never change after ingest; the flags are flipped by promotion.
type Release struct {
	ID              string
	Program         string
	SortKey         string
	Version         string
	ReleaseNotes    []Note
	IsLatest        bool
	IsUnstable      bool
	ShowInChangelog bool
	CreatedAt       time.Time
}

// Note summarises one work item shipped in a release.
type Note struct {
	Description string
	Type        string
}

// NormalizeProgram folds a program name to its partition form. Program names
// are case-insensitive.
func NormalizeProgram(program string) string {
	return strings.ToLower(strings.TrimSpace(program))
}

func (r Release) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return NewValidationError("id", "is required")
	}
	if r.Program == "" {
		return NewValidationError("program", "is required")
	}
	if r.Program != NormalizeProgram(r.Program) {
		return NewValidationError("program", "must be normalized")
	}
	if strings.TrimSpace(r.Version) == "" {
		return NewValidationError("version", "is required")
	}
	if strings.TrimSpace(r.SortKey) == "" {
		return NewValidationError("sort_key", "is required")
	}
	for i, note := range r.ReleaseNotes {
		if strings.TrimSpace(note.Type) == "" {
			return NewValidationError("release_notes", "note "+strconv.Itoa(i)+" has no type")
		}
	}
	return nil
}

// CloneNotes returns a copy so callers cannot mutate a stored slice.
func (r Release) CloneNotes() []Note {
	if r.ReleaseNotes == nil {
		return []Note{}
	}
	out := make([]Note, len(r.ReleaseNotes))
	copy(out, r.ReleaseNotes)
	return out
}
