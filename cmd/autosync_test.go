package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// autoSyncFixture points the CLI service at a scratch config dir and a
// scripted item API, with one mutation already queued offline.
type autoSyncFixture struct {
	svc      *cliService
	requests atomic.Int64
	failWith atomic.Int64 // non-zero: respond with this status
}

func newAutoSyncFixture(t *testing.T) *autoSyncFixture {
	t.Helper()

	t.Setenv("TSYNC_CONFIG_DIR", t.TempDir())
	t.Setenv("TSYNC_AUTH_TOKEN", "test-token")
	t.Setenv("TSYNC_USER_ID", "u1")

	f := &autoSyncFixture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if code := f.failWith.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode([]map[string]any{{"id": 1, "content": "Buy milk"}})
	}))
	t.Cleanup(srv.Close)

	// Queue a mutation by adding against an unreachable server.
	t.Setenv("TSYNC_SERVER_URL", "http://127.0.0.1:1")
	offline, err := openService()
	if err != nil {
		t.Fatalf("openService: %v", err)
	}
	if _, err := offline.Tasks.Add(context.Background(), "Buy milk"); err != nil {
		t.Fatalf("offline add: %v", err)
	}
	offline.Close()

	t.Setenv("TSYNC_SERVER_URL", srv.URL)
	f.svc, err = openService()
	if err != nil {
		t.Fatalf("openService: %v", err)
	}
	t.Cleanup(func() { f.svc.Close() })

	if n := f.svc.Tasks.Pending(context.Background()); n != 1 {
		t.Fatalf("expected 1 queued mutation, got %d", n)
	}
	return f
}

func TestAutoSyncDrainsQueue(t *testing.T) {
	f := newAutoSyncFixture(t)
	t.Setenv("TSYNC_AUTO_SYNC", "true")

	autoSyncAfterMutation(f.svc)

	if got := f.requests.Load(); got != 1 {
		t.Errorf("expected 1 replay request, got %d", got)
	}
	if n := f.svc.Tasks.Pending(context.Background()); n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
}

func TestAutoSyncKeepsRejectedEntries(t *testing.T) {
	f := newAutoSyncFixture(t)
	t.Setenv("TSYNC_AUTO_SYNC", "true")
	f.failWith.Store(http.StatusInternalServerError)

	autoSyncAfterMutation(f.svc)

	if got := f.requests.Load(); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
	if n := f.svc.Tasks.Pending(context.Background()); n != 1 {
		t.Errorf("expected failed mutation kept for retry, got %d", n)
	}
}

func TestAutoSyncDisabledByEnv(t *testing.T) {
	f := newAutoSyncFixture(t)
	t.Setenv("TSYNC_AUTO_SYNC", "false")

	autoSyncAfterMutation(f.svc)

	if got := f.requests.Load(); got != 0 {
		t.Errorf("expected no requests when disabled, got %d", got)
	}
	if n := f.svc.Tasks.Pending(context.Background()); n != 1 {
		t.Errorf("expected mutation kept, got %d", n)
	}
}

func TestAutoSyncRequiresAuth(t *testing.T) {
	f := newAutoSyncFixture(t)
	t.Setenv("TSYNC_AUTO_SYNC", "true")
	t.Setenv("TSYNC_AUTH_TOKEN", "")

	autoSyncAfterMutation(f.svc)

	if got := f.requests.Load(); got != 0 {
		t.Errorf("expected no requests without credentials, got %d", got)
	}
}
