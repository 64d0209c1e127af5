// Package repotest holds the behavioral suite every ReleaseRepository backend
// must pass.
package repotest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/animus-labs/release-registry/internal/domain"
	"github.com/animus-labs/release-registry/internal/repo"
	"github.com/animus-labs/release-registry/internal/versionkey"
)

// Factory returns an empty repository. Cleanup is registered on t.
type Factory func(t *testing.T) repo.ReleaseRepository

func NewRelease(program, version string, notes ...domain.Note) domain.Release {
	return domain.Release{
		ID:              uuid.NewString(),
		Program:         domain.NormalizeProgram(program),
		SortKey:         versionkey.Encode(version),
		Version:         version,
		ReleaseNotes:    notes,
		IsUnstable:      true,
		ShowInChangelog: true,
	}
}

func Run(t *testing.T, newRepo Factory) {
	t.Run("InsertThenGetByVersion", func(t *testing.T) { testInsertThenGet(t, newRepo(t)) })
	t.Run("InsertConflict", func(t *testing.T) { testInsertConflict(t, newRepo(t)) })
	t.Run("ConcurrentInsertSameVersion", func(t *testing.T) { testConcurrentInsert(t, newRepo(t)) })
	t.Run("GetByVersionAbsent", func(t *testing.T) { testGetByVersionAbsent(t, newRepo(t)) })
	t.Run("GetLatestNotFound", func(t *testing.T) { testGetLatestNotFound(t, newRepo(t)) })
	t.Run("ListAllNewestFirst", func(t *testing.T) { testListAllOrder(t, newRepo(t)) })
	t.Run("ProgramCaseInsensitive", func(t *testing.T) { testProgramCase(t, newRepo(t)) })
	t.Run("PromoteMovesLatest", func(t *testing.T) { testPromote(t, newRepo(t)) })
	t.Run("PromoteUnknownVersion", func(t *testing.T) { testPromoteUnknown(t, newRepo(t)) })
}

func mustInsert(t *testing.T, r repo.ReleaseRepository, rel domain.Release) domain.Release {
	t.Helper()
	stored, err := r.Insert(context.Background(), rel)
	if err != nil {
		t.Fatalf("Insert(%s %s) err=%v", rel.Program, rel.Version, err)
	}
	return stored
}

func testInsertThenGet(t *testing.T, r repo.ReleaseRepository) {
	ctx := context.Background()
	in := NewRelease("server", "1.4.2",
		domain.Note{Description: "Fix crash", Type: "Bug"},
		domain.Note{Description: "Dark mode", Type: "Feature"},
		domain.Note{Description: "Fix crash", Type: "Bug"},
	)
	stored := mustInsert(t, r, in)
	if stored.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not assigned")
	}

	got, ok, err := r.GetByVersion(ctx, "server", "1.4.2")
	if err != nil || !ok {
		t.Fatalf("GetByVersion() ok=%v err=%v", ok, err)
	}
	if got.SortKey != versionkey.Encode("1.4.2") {
		t.Fatalf("SortKey=%q, want %q", got.SortKey, versionkey.Encode("1.4.2"))
	}
	if got.ID != in.ID || got.Version != "1.4.2" || got.Program != "server" {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.IsUnstable || got.IsLatest || !got.ShowInChangelog {
		t.Fatalf("flags not preserved: %+v", got)
	}
	if len(got.ReleaseNotes) != 3 {
		t.Fatalf("notes=%v, want 3 notes in insertion order", got.ReleaseNotes)
	}
	for i, note := range in.ReleaseNotes {
		if got.ReleaseNotes[i] != note {
			t.Fatalf("note %d=%+v, want %+v", i, got.ReleaseNotes[i], note)
		}
	}
}

func testInsertConflict(t *testing.T, r repo.ReleaseRepository) {
	ctx := context.Background()
	first := mustInsert(t, r, NewRelease("server", "1.4.2", domain.Note{Description: "first", Type: "Bug"}))

	_, err := r.Insert(ctx, NewRelease("server", "1.4.2", domain.Note{Description: "second", Type: "Bug"}))
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("second Insert() err=%v, want ErrConflict", err)
	}

	all, err := r.ListAll(ctx, "server")
	if err != nil {
		t.Fatalf("ListAll() err=%v", err)
	}
	if len(all) != 1 || all[0].ID != first.ID || all[0].ReleaseNotes[0].Description != "first" {
		t.Fatalf("store must retain only the first record, got %+v", all)
	}

	if _, err := r.Insert(ctx, NewRelease("client", "1.4.2")); err != nil {
		t.Fatalf("same version in another program must not conflict: %v", err)
	}
}

func testConcurrentInsert(t *testing.T, r repo.ReleaseRepository) {
	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Insert(context.Background(), NewRelease("server", "2.0.0"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, repo.ErrConflict):
				conflicts++
			default:
				t.Errorf("Insert() unexpected err=%v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || conflicts != writers-1 {
		t.Fatalf("ok=%d conflicts=%d, want 1 and %d", ok, conflicts, writers-1)
	}
}

func testGetByVersionAbsent(t *testing.T, r repo.ReleaseRepository) {
	mustInsert(t, r, NewRelease("server", "1.4.2"))
	_, ok, err := r.GetByVersion(context.Background(), "server", "1.4.3")
	if err != nil {
		t.Fatalf("GetByVersion() err=%v", err)
	}
	if ok {
		t.Fatalf("GetByVersion() reported unknown version as present")
	}
}

func testGetLatestNotFound(t *testing.T, r repo.ReleaseRepository) {
	ctx := context.Background()
	if _, err := r.GetLatest(ctx, "server"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("GetLatest() on empty program err=%v, want ErrNotFound", err)
	}
	mustInsert(t, r, NewRelease("server", "1.4.2"))
	if _, err := r.GetLatest(ctx, "server"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("GetLatest() without promotion err=%v, want ErrNotFound", err)
	}
}

func testListAllOrder(t *testing.T, r repo.ReleaseRepository) {
	ctx := context.Background()
	for _, v := range []string{"1.4.2", "2.0.0", "1.0.0", "1.5.0"} {
		mustInsert(t, r, NewRelease("server", v))
	}
	mustInsert(t, r, NewRelease("other", "9.9.9"))
	hidden := NewRelease("server", "1.4.3")
	hidden.ShowInChangelog = false
	mustInsert(t, r, hidden)

	all, err := r.ListAll(ctx, "server")
	if err != nil {
		t.Fatalf("ListAll() err=%v", err)
	}
	want := []string{"2.0.0", "1.5.0", "1.4.3", "1.4.2", "1.0.0"}
	if len(all) != len(want) {
		t.Fatalf("ListAll() len=%d, want %d", len(all), len(want))
	}
	for i, v := range want {
		if all[i].Version != v {
			t.Fatalf("ListAll()[%d]=%s, want %s", i, all[i].Version, v)
		}
	}
	if all[2].ShowInChangelog {
		t.Fatalf("hidden flag lost")
	}

	empty, err := r.ListAll(ctx, "unknown")
	if err != nil {
		t.Fatalf("ListAll(unknown) err=%v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("ListAll(unknown)=%v", empty)
	}
}

func testProgramCase(t *testing.T, r repo.ReleaseRepository) {
	ctx := context.Background()
	mustInsert(t, r, NewRelease("Server", "1.4.2"))
	if _, ok, err := r.GetByVersion(ctx, "SERVER", "1.4.2"); err != nil || !ok {
		t.Fatalf("GetByVersion(SERVER) ok=%v err=%v", ok, err)
	}
	all, err := r.ListAll(ctx, "sErVeR")
	if err != nil || len(all) != 1 {
		t.Fatalf("ListAll(sErVeR)=%v err=%v", all, err)
	}
}

func testPromote(t *testing.T, r repo.ReleaseRepository) {
	ctx := context.Background()
	mustInsert(t, r, NewRelease("server", "1.4.2"))
	mustInsert(t, r, NewRelease("server", "1.5.0"))

	promoted, err := r.Promote(ctx, "Server", "1.4.2")
	if err != nil {
		t.Fatalf("Promote(1.4.2) err=%v", err)
	}
	if !promoted.IsLatest || promoted.IsUnstable {
		t.Fatalf("promoted flags=%+v", promoted)
	}
	latest, err := r.GetLatest(ctx, "server")
	if err != nil || latest.Version != "1.4.2" {
		t.Fatalf("GetLatest()=%+v err=%v", latest, err)
	}

	if _, err := r.Promote(ctx, "server", "1.5.0"); err != nil {
		t.Fatalf("Promote(1.5.0) err=%v", err)
	}
	latest, err = r.GetLatest(ctx, "server")
	if err != nil || latest.Version != "1.5.0" {
		t.Fatalf("GetLatest()=%+v err=%v", latest, err)
	}

	all, err := r.ListAll(ctx, "server")
	if err != nil {
		t.Fatalf("ListAll() err=%v", err)
	}
	latestCount := 0
	for _, rel := range all {
		if rel.IsLatest {
			latestCount++
		}
	}
	if latestCount != 1 {
		t.Fatalf("latest records=%d, want 1", latestCount)
	}
	old, _, _ := r.GetByVersion(ctx, "server", "1.4.2")
	if old.IsLatest || old.IsUnstable {
		t.Fatalf("previous latest flags=%+v, want stable and not latest", old)
	}
}

func testPromoteUnknown(t *testing.T, r repo.ReleaseRepository) {
	ctx := context.Background()
	mustInsert(t, r, NewRelease("server", "1.4.2"))
	if _, err := r.Promote(ctx, "server", "1.4.2"); err != nil {
		t.Fatalf("Promote() err=%v", err)
	}
	if _, err := r.Promote(ctx, "server", "3.0.0"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Promote(unknown) err=%v, want ErrNotFound", err)
	}
	latest, err := r.GetLatest(ctx, "server")
	if err != nil || latest.Version != "1.4.2" {
		t.Fatalf("failed promotion must keep previous latest, got %+v err=%v", latest, err)
	}
}
