package releases

import (
	"time"

	"github.com/animus-labs/release-registry/internal/domain"
)

const (
	GroupBugFixes    = "Bug fixes"
	GroupNewFeatures = "New features"

	bugType = "Bug"
)

// VersionCheck answers a client's version check. LatestVersion carries the
// encoded sort key of the latest release, not its version string; existing
// clients compare against that form.
type VersionCheck struct {
	IsLatest      bool   `json:"isLatest"`
	IsUnstable    bool   `json:"isUnstable"`
	LatestVersion string `json:"latestVersion"`
	Download      string `json:"download"`
}

type NoteGroup struct {
	Type    string   `json:"type"`
	Changes []string `json:"changes"`
}

type ChangelogEntry struct {
	Version      string      `json:"version"`
	ReleaseNotes []NoteGroup `json:"releaseNotes"`
	Date         string      `json:"date"`
	Unstable     bool        `json:"unstable"`
	VersionStamp string      `json:"versionStamp"`
	Latest       bool        `json:"latest"`
	DownloadURL  string      `json:"downloadUrl"`
}

type NoteView struct {
	Description string `json:"description"`
	Type        string `json:"type"`
}

// ReleaseView is the stored record as returned by ingest and promote.
type ReleaseView struct {
	ID              string     `json:"id"`
	Program         string     `json:"program"`
	Version         string     `json:"version"`
	SortKey         string     `json:"sortKey"`
	ReleaseNotes    []NoteView `json:"releaseNotes"`
	IsLatest        bool       `json:"isLatest"`
	IsUnstable      bool       `json:"isUnstable"`
	ShowInChangelog bool       `json:"showInChangelog"`
	CreatedAt       string     `json:"createdAt"`
}

func ViewOf(r domain.Release) ReleaseView {
	notes := make([]NoteView, 0, len(r.ReleaseNotes))
	for _, n := range r.ReleaseNotes {
		notes = append(notes, NoteView{Description: n.Description, Type: n.Type})
	}
	return ReleaseView{
		ID:              r.ID,
		Program:         r.Program,
		Version:         r.Version,
		SortKey:         r.SortKey,
		ReleaseNotes:    notes,
		IsLatest:        r.IsLatest,
		IsUnstable:      r.IsUnstable,
		ShowInChangelog: r.ShowInChangelog,
		CreatedAt:       formatDate(r.CreatedAt),
	}
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// GroupNotes buckets notes by type in encounter order, moves the "Bug"
// group to the front and relabels the groups. Every non-bug type keeps its
// own group, so several "New features" groups can appear.
func GroupNotes(notes []domain.Note) []NoteGroup {
	index := make(map[string]int, len(notes))
	groups := make([]NoteGroup, 0)
	types := make([]string, 0)
	for _, n := range notes {
		i, ok := index[n.Type]
		if !ok {
			i = len(groups)
			index[n.Type] = i
			groups = append(groups, NoteGroup{Changes: []string{}})
			types = append(types, n.Type)
		}
		groups[i].Changes = append(groups[i].Changes, n.Description)
	}

	out := make([]NoteGroup, 0, len(groups))
	if i, ok := index[bugType]; ok {
		out = append(out, NoteGroup{Type: GroupBugFixes, Changes: groups[i].Changes})
	}
	for i, g := range groups {
		if types[i] == bugType {
			continue
		}
		out = append(out, NoteGroup{Type: GroupNewFeatures, Changes: g.Changes})
	}
	return out
}
