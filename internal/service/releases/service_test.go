package releases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/release-registry/internal/catalog"
	"github.com/animus-labs/release-registry/internal/domain"
	platformsqlite "github.com/animus-labs/release-registry/internal/platform/sqlite"
	"github.com/animus-labs/release-registry/internal/repo"
	sqliterepo "github.com/animus-labs/release-registry/internal/repo/sqlite"
	"github.com/animus-labs/release-registry/internal/service/artifacts"
	"github.com/animus-labs/release-registry/internal/versionkey"
)

var storedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type stubRepo struct {
	latest    domain.Release
	hasLatest bool
	byVersion map[string]domain.Release
	list      []domain.Release
	insertErr error

	inserted          []domain.Release
	getLatestCalls    int
	getByVersionCalls int
	listCalls         int
	promoteCalls      int
}

func (s *stubRepo) Insert(ctx context.Context, release domain.Release) (domain.Release, error) {
	if s.insertErr != nil {
		return domain.Release{}, s.insertErr
	}
	s.inserted = append(s.inserted, release)
	if release.CreatedAt.IsZero() {
		release.CreatedAt = storedAt
	}
	return release, nil
}

func (s *stubRepo) GetLatest(ctx context.Context, program string) (domain.Release, error) {
	s.getLatestCalls++
	if !s.hasLatest {
		return domain.Release{}, repo.ErrNotFound
	}
	return s.latest, nil
}

func (s *stubRepo) GetByVersion(ctx context.Context, program, version string) (domain.Release, bool, error) {
	s.getByVersionCalls++
	r, ok := s.byVersion[version]
	return r, ok, nil
}

func (s *stubRepo) ListAll(ctx context.Context, program string) ([]domain.Release, error) {
	s.listCalls++
	return s.list, nil
}

func (s *stubRepo) Promote(ctx context.Context, program, version string) (domain.Release, error) {
	s.promoteCalls++
	r, ok := s.byVersion[version]
	if !ok {
		return domain.Release{}, repo.ErrNotFound
	}
	r.IsLatest, r.IsUnstable = true, false
	return r, nil
}

type stubLinker struct {
	calls   []string
	distrib bool
	linkErr error
}

func (s *stubLinker) LinkFor(ctx context.Context, program, version string) (string, error) {
	s.calls = append(s.calls, version)
	if s.linkErr != nil {
		return "", s.linkErr
	}
	if !s.distrib {
		return "", nil
	}
	return "https://objects.example/" + version, nil
}

type stubNotifier struct {
	err      error
	released []domain.Release
}

func (s *stubNotifier) ReleaseIngested(ctx context.Context, release domain.Release) error {
	s.released = append(s.released, release)
	return s.err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestService(t *testing.T, r repo.ReleaseRepository, l Linker, notifiers ...Notifier) *Service {
	t.Helper()
	svc, err := NewService(r, l, newTestLogger(), notifiers...)
	if err != nil {
		t.Fatalf("NewService() err=%v", err)
	}
	svc.newID = func() string { return "rel-1" }
	return svc
}

func record(version string, latest, unstable bool, notes ...domain.Note) domain.Release {
	return domain.Release{
		ID:              "id-" + version,
		Program:         "server",
		SortKey:         versionkey.Encode(version),
		Version:         version,
		ReleaseNotes:    notes,
		IsLatest:        latest,
		IsUnstable:      unstable,
		ShowInChangelog: true,
		CreatedAt:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func eventJSON(version string, items ...[2]string) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf(`{"fields":{"System.WorkItemType":%q,"System.Title":%q}}`, it[0], it[1]))
	}
	return fmt.Sprintf(`{"resource":{"data":{"workItems":[%s]},"environment":{"release":{"name":%q}}}}`,
		strings.Join(parts, ","), version)
}

func TestIngestBuildsUnstableRecord(t *testing.T) {
	r := &stubRepo{}
	notifier := &stubNotifier{}
	svc := newTestService(t, r, &stubLinker{}, notifier)

	got, err := svc.Ingest(context.Background(), " Server ", strings.NewReader(eventJSON("1.4.2",
		[2]string{"Bug", "Fix crash"},
		[2]string{"Feature", "Dark mode"},
	)))
	if err != nil {
		t.Fatalf("Ingest() err=%v", err)
	}
	if len(r.inserted) != 1 {
		t.Fatalf("insert calls=%d, want 1", len(r.inserted))
	}
	if !r.inserted[0].CreatedAt.IsZero() {
		t.Fatalf("creation time must be assigned by the store, got %s", r.inserted[0].CreatedAt)
	}
	want := domain.Release{
		ID:              "rel-1",
		Program:         "server",
		SortKey:         versionkey.Encode("1.4.2"),
		Version:         "1.4.2",
		IsUnstable:      true,
		ShowInChangelog: true,
		CreatedAt:       storedAt,
	}
	if got.ID != want.ID || got.Program != want.Program || got.SortKey != want.SortKey ||
		got.Version != want.Version || got.IsLatest || !got.IsUnstable || !got.ShowInChangelog ||
		!got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("Ingest()=%+v, want %+v", got, want)
	}
	if len(got.ReleaseNotes) != 2 ||
		got.ReleaseNotes[0] != (domain.Note{Description: "Fix crash", Type: "Bug"}) ||
		got.ReleaseNotes[1] != (domain.Note{Description: "Dark mode", Type: "Feature"}) {
		t.Fatalf("unexpected notes %+v", got.ReleaseNotes)
	}
	if len(notifier.released) != 1 || notifier.released[0].Version != "1.4.2" {
		t.Fatalf("notifier not called with the stored release: %+v", notifier.released)
	}
}

func TestIngestRejectsInvalidInput(t *testing.T) {
	cases := map[string]struct {
		program string
		body    string
	}{
		"missing program":    {program: " ", body: eventJSON("1.0.0")},
		"malformed json":     {program: "server", body: `{"resource":`},
		"missing resource":   {program: "server", body: `{}`},
		"missing version":    {program: "server", body: eventJSON("")},
		"non-numeric":        {program: "server", body: eventJSON("1.0.0-beta")},
		"work item no type":  {program: "server", body: eventJSON("1.0.0", [2]string{"", "title"})},
		"work item no title": {program: "server", body: eventJSON("1.0.0", [2]string{"Bug", " "})},
		"wrong type":         {program: "server", body: `{"resource":{"environment":{"release":{"name":42}}}}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := &stubRepo{}
			svc := newTestService(t, r, &stubLinker{})
			_, err := svc.Ingest(context.Background(), tc.program, strings.NewReader(tc.body))
			if !domain.IsValidation(err) {
				t.Fatalf("Ingest() err=%v, want validation error", err)
			}
			if len(r.inserted) != 0 {
				t.Fatalf("no record may be built for an invalid event")
			}
		})
	}
}

func TestIngestConflictSurfaces(t *testing.T) {
	notifier := &stubNotifier{}
	svc := newTestService(t, &stubRepo{insertErr: repo.ErrConflict}, &stubLinker{}, notifier)
	_, err := svc.Ingest(context.Background(), "server", strings.NewReader(eventJSON("1.4.2")))
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("Ingest() err=%v, want ErrConflict", err)
	}
	if len(notifier.released) != 0 {
		t.Fatalf("notifier must not run for a failed ingest")
	}
}

func TestIngestNotifierFailureDoesNotFailIngest(t *testing.T) {
	r := &stubRepo{}
	svc := newTestService(t, r, &stubLinker{}, &stubNotifier{err: errors.New("chat unreachable")})
	if _, err := svc.Ingest(context.Background(), "server", strings.NewReader(eventJSON("1.4.2"))); err != nil {
		t.Fatalf("Ingest() err=%v", err)
	}
	if len(r.inserted) != 1 {
		t.Fatalf("release must be stored despite notifier failure")
	}
}

type blockingNotifier struct{}

func (blockingNotifier) ReleaseIngested(ctx context.Context, release domain.Release) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestIngestBoundsSlowNotifiers(t *testing.T) {
	r := &stubRepo{}
	after := &stubNotifier{}
	svc := newTestService(t, r, &stubLinker{}, blockingNotifier{}, after)
	svc.SetNotifyTimeout(50 * time.Millisecond)

	start := time.Now()
	got, err := svc.Ingest(context.Background(), "server", strings.NewReader(eventJSON("1.4.2")))
	if err != nil {
		t.Fatalf("Ingest() err=%v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Ingest() blocked for %s", elapsed)
	}
	if got.Version != "1.4.2" || len(r.inserted) != 1 {
		t.Fatalf("release must be stored, got %+v", got)
	}
	if len(after.released) != 1 {
		t.Fatalf("later notifiers still run, got %d calls", len(after.released))
	}
}

func TestCheckVersionFastPath(t *testing.T) {
	r := &stubRepo{latest: record("1.4.2", true, false), hasLatest: true}
	l := &stubLinker{distrib: true}
	svc := newTestService(t, r, l)

	got, err := svc.CheckVersion(context.Background(), "server", "1.4.2")
	if err != nil {
		t.Fatalf("CheckVersion() err=%v", err)
	}
	if got != (VersionCheck{IsLatest: true}) {
		t.Fatalf("CheckVersion()=%+v, want only isLatest", got)
	}
	if r.getLatestCalls != 1 || r.getByVersionCalls != 0 || r.listCalls != 0 || len(l.calls) != 0 {
		t.Fatalf("fast path made extra calls: latest=%d byVersion=%d list=%d links=%d",
			r.getLatestCalls, r.getByVersionCalls, r.listCalls, len(l.calls))
	}
}

func TestCheckVersionOutdatedNonDistributable(t *testing.T) {
	r := &stubRepo{
		latest:    record("1.5.0", true, false),
		hasLatest: true,
		byVersion: map[string]domain.Release{"1.4.2": record("1.4.2", false, false)},
	}
	programs, err := catalog.New([]catalog.Program{{Name: "server", Distributable: false}})
	if err != nil {
		t.Fatalf("catalog.New() err=%v", err)
	}
	linker, err := artifacts.NewLinker(presignerFunc(func(context.Context, string, string, time.Duration) (string, error) {
		t.Fatalf("presigner must not be called for a non-distributable program")
		return "", nil
	}), programs, "bucket", 0)
	if err != nil {
		t.Fatalf("NewLinker() err=%v", err)
	}
	svc := newTestService(t, r, linker)

	got, err := svc.CheckVersion(context.Background(), "server", "1.4.2")
	if err != nil {
		t.Fatalf("CheckVersion() err=%v", err)
	}
	want := VersionCheck{IsLatest: false, IsUnstable: false, LatestVersion: versionkey.Encode("1.5.0"), Download: ""}
	if got != want {
		t.Fatalf("CheckVersion()=%+v, want %+v", got, want)
	}
}

func TestCheckVersionUnstableAndUnknownCaller(t *testing.T) {
	r := &stubRepo{
		latest:    record("1.5.0", true, false),
		hasLatest: true,
		byVersion: map[string]domain.Release{"1.6.0": record("1.6.0", false, true)},
	}
	l := &stubLinker{distrib: true}
	svc := newTestService(t, r, l)

	got, err := svc.CheckVersion(context.Background(), "server", "1.6.0")
	if err != nil {
		t.Fatalf("CheckVersion() err=%v", err)
	}
	if !got.IsUnstable || got.IsLatest || got.Download != "https://objects.example/1.6.0" {
		t.Fatalf("unexpected unstable check %+v", got)
	}

	got, err = svc.CheckVersion(context.Background(), "server", "0.9")
	if err != nil {
		t.Fatalf("CheckVersion(unknown) err=%v", err)
	}
	if got.IsUnstable || got.IsLatest || got.LatestVersion != versionkey.Encode("1.5.0") {
		t.Fatalf("unknown caller version must default to stable, got %+v", got)
	}
	if l.calls[len(l.calls)-1] != "0.9" {
		t.Fatalf("link must be issued for the caller version, got %v", l.calls)
	}
}

func TestCheckVersionMissingLatest(t *testing.T) {
	r := &stubRepo{}
	svc := newTestService(t, r, &stubLinker{})
	_, err := svc.CheckVersion(context.Background(), "server", "1.0.0")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("CheckVersion() err=%v, want ErrNotFound", err)
	}
	if r.getByVersionCalls != 0 {
		t.Fatalf("no default response may be built without a latest release")
	}
}

func TestCheckVersionLinkError(t *testing.T) {
	r := &stubRepo{latest: record("1.5.0", true, false), hasLatest: true}
	boom := errors.New("presign failed")
	svc := newTestService(t, r, &stubLinker{linkErr: boom})
	if _, err := svc.CheckVersion(context.Background(), "server", "1.4.2"); !errors.Is(err, boom) {
		t.Fatalf("CheckVersion() err=%v, want link error", err)
	}
}

func TestChangelogKeepsStoreOrderAndLinksEligibleEntries(t *testing.T) {
	hidden := record("1.6.1", false, true)
	hidden.ShowInChangelog = false
	r := &stubRepo{list: []domain.Release{
		record("1.6.0", false, true, domain.Note{Description: "Beta", Type: "Feature"}),
		hidden,
		record("1.5.0", true, false, domain.Note{Description: "Fix", Type: "Bug"}),
		record("2.0.0", false, false),
		record("1.4.2", false, false, domain.Note{Description: "Old", Type: "Task"}),
	}}
	l := &stubLinker{distrib: true}
	svc := newTestService(t, r, l)

	got, err := svc.Changelog(context.Background(), "Server")
	if err != nil {
		t.Fatalf("Changelog() err=%v", err)
	}
	wantStamps := []string{"1.6.0", "1.5.0", "2.0.0", "1.4.2"}
	if len(got) != len(wantStamps) {
		t.Fatalf("Changelog() len=%d, want %d", len(got), len(wantStamps))
	}
	for i, stamp := range wantStamps {
		if got[i].VersionStamp != stamp || got[i].Version != versionkey.Encode(stamp) {
			t.Fatalf("entry %d=%s/%s, want %s in store order", i, got[i].VersionStamp, got[i].Version, stamp)
		}
	}
	if got[0].DownloadURL == "" || !got[0].Unstable {
		t.Fatalf("unstable entry must carry a link: %+v", got[0])
	}
	if got[1].DownloadURL == "" || !got[1].Latest {
		t.Fatalf("latest entry must carry a link: %+v", got[1])
	}
	if got[2].DownloadURL != "" || got[3].DownloadURL != "" {
		t.Fatalf("stable non-latest entries must not carry a link")
	}
	if strings.Join(l.calls, ",") != "1.6.0,1.5.0" {
		t.Fatalf("links issued for %v, want 1.6.0,1.5.0", l.calls)
	}
	if got[0].Date != "2024-01-02T03:04:05Z" {
		t.Fatalf("Date=%q", got[0].Date)
	}
	if got[2].ReleaseNotes == nil || len(got[2].ReleaseNotes) != 0 {
		t.Fatalf("release without notes must have an empty group list, got %#v", got[2].ReleaseNotes)
	}
}

func TestChangelogEmptyProgram(t *testing.T) {
	svc := newTestService(t, &stubRepo{}, &stubLinker{})
	got, err := svc.Changelog(context.Background(), "server")
	if err != nil {
		t.Fatalf("Changelog() err=%v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("Changelog()=%#v, want empty slice", got)
	}
}

func TestGroupNotes(t *testing.T) {
	got := GroupNotes([]domain.Note{
		{Type: "Bug", Description: "A"},
		{Type: "Feature", Description: "B"},
		{Type: "Bug", Description: "C"},
	})
	want := []NoteGroup{
		{Type: GroupBugFixes, Changes: []string{"A", "C"}},
		{Type: GroupNewFeatures, Changes: []string{"B"}},
	}
	assertGroups(t, got, want)

	got = GroupNotes([]domain.Note{
		{Type: "Feature", Description: "F1"},
		{Type: "Task", Description: "T1"},
		{Type: "Bug", Description: "B1"},
		{Type: "Feature", Description: "F2"},
	})
	want = []NoteGroup{
		{Type: GroupBugFixes, Changes: []string{"B1"}},
		{Type: GroupNewFeatures, Changes: []string{"F1", "F2"}},
		{Type: GroupNewFeatures, Changes: []string{"T1"}},
	}
	assertGroups(t, got, want)

	if got := GroupNotes(nil); got == nil || len(got) != 0 {
		t.Fatalf("GroupNotes(nil)=%#v", got)
	}
}

func assertGroups(t *testing.T, got, want []NoteGroup) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("groups=%+v, want %+v", got, want)
	}
	for i := range want {
		if got[i].Type != want[i].Type || strings.Join(got[i].Changes, "|") != strings.Join(want[i].Changes, "|") {
			t.Fatalf("group %d=%+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPromote(t *testing.T) {
	r := &stubRepo{byVersion: map[string]domain.Release{"1.4.2": record("1.4.2", false, true)}}
	svc := newTestService(t, r, &stubLinker{})

	got, err := svc.Promote(context.Background(), "server", "1.4.2")
	if err != nil {
		t.Fatalf("Promote() err=%v", err)
	}
	if !got.IsLatest || got.IsUnstable {
		t.Fatalf("Promote()=%+v", got)
	}
	if _, err := svc.Promote(context.Background(), "server", "9.9.9"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Promote(unknown) err=%v, want ErrNotFound", err)
	}
	if _, err := svc.Promote(context.Background(), "server", "next"); !domain.IsValidation(err) {
		t.Fatalf("Promote(next) err=%v, want validation error", err)
	}
	if r.promoteCalls != 2 {
		t.Fatalf("promote calls=%d, want 2", r.promoteCalls)
	}
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	if _, err := NewService(nil, &stubLinker{}, nil); err == nil {
		t.Fatalf("expected error for nil repository")
	}
	if _, err := NewService(&stubRepo{}, nil, nil); err == nil {
		t.Fatalf("expected error for nil linker")
	}
}

// TestRegistryOnSQLite drives the service against a real store.
func TestRegistryOnSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := platformsqlite.Open(ctx, platformsqlite.Config{Path: platformsqlite.MemoryPath})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	if err := sqliterepo.Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate() err=%v", err)
	}
	svc, err := NewService(sqliterepo.NewReleaseStore(db), &stubLinker{}, newTestLogger())
	if err != nil {
		t.Fatalf("NewService() err=%v", err)
	}

	for _, v := range []string{"1.4.2", "1.5.0"} {
		if _, err := svc.Ingest(ctx, "server", strings.NewReader(eventJSON(v, [2]string{"Bug", "fix " + v}))); err != nil {
			t.Fatalf("Ingest(%s) err=%v", v, err)
		}
	}
	if _, err := svc.Ingest(ctx, "SERVER", strings.NewReader(eventJSON("1.4.2"))); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("duplicate Ingest() err=%v, want ErrConflict", err)
	}
	if _, err := svc.CheckVersion(ctx, "server", "1.4.2"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("CheckVersion() before promotion err=%v, want ErrNotFound", err)
	}
	if _, err := svc.Promote(ctx, "server", "1.5.0"); err != nil {
		t.Fatalf("Promote() err=%v", err)
	}
	check, err := svc.CheckVersion(ctx, "server", "1.4.2")
	if err != nil {
		t.Fatalf("CheckVersion() err=%v", err)
	}
	if check.IsLatest || !check.IsUnstable || check.LatestVersion != versionkey.Encode("1.5.0") {
		t.Fatalf("CheckVersion()=%+v", check)
	}
	entries, err := svc.Changelog(ctx, "server")
	if err != nil {
		t.Fatalf("Changelog() err=%v", err)
	}
	if len(entries) != 2 || entries[0].VersionStamp != "1.5.0" || !entries[0].Latest || entries[0].Unstable {
		t.Fatalf("Changelog()=%+v", entries)
	}
	if entries[0].ReleaseNotes[0].Type != GroupBugFixes || entries[0].ReleaseNotes[0].Changes[0] != "fix 1.5.0" {
		t.Fatalf("unexpected notes %+v", entries[0].ReleaseNotes)
	}
}

type presignerFunc func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)

func (f presignerFunc) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return f(ctx, bucket, key, ttl)
}
