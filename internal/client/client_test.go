package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/animus-labs/release-registry/internal/service/releases"
)

func newTestClient(srv *httptest.Server, retries int) *Client {
	c := NewWithHTTPClient(srv.Client(), srv.URL+"/", retries)
	c.backoff = func(int) time.Duration { return 0 }
	return c
}

func TestPushRetriesThrottledRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/programs/server/releases" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"resource":{}}` {
			t.Errorf("body not replayed: %q", body)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(releases.ReleaseView{ID: "rel-1", Version: "1.4.2"})
	}))
	defer srv.Close()

	got, err := newTestClient(srv, 2).Push(context.Background(), "server", strings.NewReader(`{"resource":{}}`))
	if err != nil {
		t.Fatalf("Push() err=%v", err)
	}
	if got.ID != "rel-1" || got.Version != "1.4.2" {
		t.Fatalf("Push()=%+v", got)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls=%d, want 2", calls.Load())
	}
}

func TestPushDoesNotRetryServerErrors(t *testing.T) {
	var calls atomic.Int32
	var stored atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if stored.Swap(true) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"conflict"}`))
			return
		}
		// The release is stored but the answer is lost on the way back.
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 2).Push(context.Background(), "server", strings.NewReader(`{"resource":{}}`))
	if !IsStatus(err, http.StatusBadGateway) {
		t.Fatalf("Push() err=%v, want 502", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d, want 1", calls.Load())
	}
}

func TestCheckRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(releases.VersionCheck{IsLatest: true})
	}))
	defer srv.Close()

	got, err := newTestClient(srv, 2).Check(context.Background(), "server", "1.0")
	if err != nil || !got.IsLatest {
		t.Fatalf("Check()=%+v err=%v", got, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls=%d, want 2", calls.Load())
	}
}

func TestPushRetriesWhenServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := srv.URL
	srv.Close()

	c := NewWithHTTPClient(&http.Client{}, target, 1)
	var waits atomic.Int32
	c.backoff = func(int) time.Duration {
		waits.Add(1)
		return 0
	}
	if _, err := c.Push(context.Background(), "server", strings.NewReader(`{}`)); err == nil {
		t.Fatalf("expected error for unreachable server")
	}
	if waits.Load() != 1 {
		t.Fatalf("retries=%d, want 1", waits.Load())
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"conflict","request_id":"rid-1"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 3).Push(context.Background(), "server", strings.NewReader(`{}`))
	if !IsStatus(err, http.StatusConflict) {
		t.Fatalf("Push() err=%v, want 409", err)
	}
	if !strings.Contains(err.Error(), "conflict (request rid-1)") {
		t.Fatalf("error message %q", err.Error())
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d, want 1", calls.Load())
	}
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 2).Check(context.Background(), "server", "1.0")
	if !IsStatus(err, http.StatusTooManyRequests) {
		t.Fatalf("Check() err=%v, want 429", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d, want 3", calls.Load())
	}
}

func TestCheckAndChangelog(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /programs/{program}/versions/{version}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("program") != "server" || r.PathValue("version") != "1.4.2" {
			t.Errorf("unexpected path values %s %s", r.PathValue("program"), r.PathValue("version"))
		}
		_ = json.NewEncoder(w).Encode(releases.VersionCheck{IsLatest: false, IsUnstable: true, LatestVersion: "42"})
	})
	mux.HandleFunc("GET /programs/{program}/changelog", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]releases.ChangelogEntry{{VersionStamp: "1.5.0"}, {VersionStamp: "1.4.2"}})
	})
	mux.HandleFunc("POST /programs/{program}/releases/{version}/promote", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(releases.ReleaseView{Version: r.PathValue("version"), IsLatest: true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := newTestClient(srv, 0)

	check, err := c.Check(context.Background(), "server", "1.4.2")
	if err != nil || !check.IsUnstable || check.LatestVersion != "42" {
		t.Fatalf("Check()=%+v err=%v", check, err)
	}
	entries, err := c.Changelog(context.Background(), "server")
	if err != nil || len(entries) != 2 || entries[0].VersionStamp != "1.5.0" {
		t.Fatalf("Changelog()=%+v err=%v", entries, err)
	}
	promoted, err := c.Promote(context.Background(), "server", "1.5.0")
	if err != nil || !promoted.IsLatest || promoted.Version != "1.5.0" {
		t.Fatalf("Promote()=%+v err=%v", promoted, err)
	}
}

func TestNewUsesClientCredentials(t *testing.T) {
	var tokenCalls atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type=%q", r.Form.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	var auth atomic.Value
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"isLatest":true}`))
	}))
	defer api.Close()

	c, err := New(context.Background(), Config{
		BaseURL:      api.URL,
		Timeout:      5 * time.Second,
		TokenURL:     tokenSrv.URL,
		ClientID:     "ci",
		ClientSecret: "secret",
		Scopes:       []string{"releases.publish"},
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	check, err := c.Check(context.Background(), "server", "1.0")
	if err != nil || !check.IsLatest {
		t.Fatalf("Check()=%+v err=%v", check, err)
	}
	if got, _ := auth.Load().(string); got != "Bearer tok-1" {
		t.Fatalf("Authorization=%q, want Bearer tok-1", got)
	}
	if tokenCalls.Load() != 1 {
		t.Fatalf("token calls=%d, want 1", tokenCalls.Load())
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("RELEASES_URL", "https://releases.example")
	t.Setenv("RELEASES_CLIENT_SCOPES", "a,b")
	t.Setenv("RELEASES_TOKEN_URL", "")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.BaseURL != "https://releases.example" || len(cfg.Scopes) != 2 || cfg.MaxRetries != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("RELEASES_URL", "not a url")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for relative url")
	}

	t.Setenv("RELEASES_URL", "https://releases.example")
	t.Setenv("RELEASES_TOKEN_URL", "https://idp.example/token")
	t.Setenv("RELEASES_CLIENT_ID", "")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for token url without client id")
	}
}
