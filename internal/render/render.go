// Package render formats registry answers for a terminal.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/animus-labs/release-registry/internal/service/releases"
)

type styles struct {
	title    lipgloss.Style
	version  lipgloss.Style
	badge    lipgloss.Style
	unstable lipgloss.Style
	group    lipgloss.Style
	muted    lipgloss.Style
	box      lipgloss.Style
}

// newStyles binds styles to w so colors are dropped when w is not a terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1),
		version:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")),
		badge:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#50FA7B")),
		unstable: r.NewStyle().Foreground(lipgloss.Color("#F1C40F")),
		group:    r.NewStyle().Underline(true),
		muted:    r.NewStyle().Foreground(lipgloss.Color("#888888")),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1),
	}
}

func Changelog(w io.Writer, program string, entries []releases.ChangelogEntry) error {
	s := newStyles(w)
	sections := []string{s.title.Render(fmt.Sprintf("⬡ %s changelog", program))}
	if len(entries) == 0 {
		sections = append(sections, s.muted.Render("no releases yet"))
	}
	for _, e := range entries {
		sections = append(sections, s.box.Render(entryBody(s, e)))
	}
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, sections...))
	return err
}

func entryBody(s styles, e releases.ChangelogEntry) string {
	head := []string{s.version.Render(e.VersionStamp)}
	if e.Latest {
		head = append(head, s.badge.Render("latest"))
	}
	if e.Unstable {
		head = append(head, s.unstable.Render("unstable"))
	}
	if e.Date != "" {
		head = append(head, s.muted.Render(e.Date))
	}

	lines := []string{strings.Join(head, "  ")}
	for _, g := range e.ReleaseNotes {
		lines = append(lines, "", s.group.Render(g.Type))
		for _, change := range g.Changes {
			lines = append(lines, "• "+change)
		}
	}
	if e.DownloadURL != "" {
		lines = append(lines, "", s.muted.Render("download: ")+e.DownloadURL)
	}
	return strings.Join(lines, "\n")
}

func VersionCheck(w io.Writer, program, version string, check releases.VersionCheck) error {
	s := newStyles(w)
	var out string
	switch {
	case check.IsLatest:
		out = s.badge.Render(fmt.Sprintf("%s %s is the latest release", program, version))
	default:
		lines := []string{s.version.Render(fmt.Sprintf("%s %s is not the latest release", program, version))}
		if check.IsUnstable {
			lines = append(lines, s.unstable.Render("this build is unstable"))
		}
		lines = append(lines, s.muted.Render("latest key: ")+check.LatestVersion)
		if check.Download != "" {
			lines = append(lines, s.muted.Render("download: ")+check.Download)
		}
		out = strings.Join(lines, "\n")
	}
	_, err := fmt.Fprintln(w, out)
	return err
}
