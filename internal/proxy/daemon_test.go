package proxy

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/telaman/tsync/internal/models"
	"github.com/telaman/tsync/internal/remote"
	"github.com/telaman/tsync/internal/store"
)

// testDaemon builds a daemon without starting its listener; requests
// go through an httptest server wrapping the daemon's handler.
type testDaemon struct {
	d     *Daemon
	srv   *httptest.Server
	store *store.Store
}

func newTestDaemon(t *testing.T, cfg Config) *testDaemon {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	st, err := store.OpenConn(conn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if cfg.CacheRoot == "" {
		cfg.CacheRoot = t.TempDir()
	}
	if cfg.Generation == "" {
		cfg.Generation = "test-gen"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "http://127.0.0.1:1" // unreachable: offline by default
	}
	if cfg.UserID == "" {
		cfg.UserID = "u1"
	}

	d, err := NewDaemon(cfg, st)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	srv := httptest.NewServer(d.routes())
	t.Cleanup(srv.Close)
	return &testDaemon{d: d, srv: srv, store: st}
}

func (td *testDaemon) do(t *testing.T, method, path string, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, td.srv.URL+path, bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeRows(t *testing.T, resp *http.Response) []remote.ItemRow {
	t.Helper()
	var rows []remote.ItemRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	return rows
}

func TestOfflinePostSynthesizesAdd(t *testing.T) {
	td := newTestDaemon(t, Config{})
	ctx := context.Background()

	resp := td.do(t, "POST", "/rest/v1/items", `{"content":"Buy milk","user_id":"u1"}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	rows := decodeRows(t, resp)
	if len(rows) != 1 {
		t.Fatalf("rows = %+v", rows)
	}
	if !strings.HasPrefix(string(rows[0].ID), models.PlaceholderPrefix) {
		t.Errorf("synthesized id = %q, want placeholder prefix", rows[0].ID)
	}
	if rows[0].Content != "Buy milk" || rows[0].Completed {
		t.Errorf("row = %+v", rows[0])
	}

	muts, err := td.store.Mutations(ctx)
	if err != nil || len(muts) != 1 {
		t.Fatalf("mutations = %+v (%v)", muts, err)
	}
	if muts[0].Action != models.ActionAdd || muts[0].ItemID != string(rows[0].ID) {
		t.Errorf("queued = %+v", muts[0])
	}

	items, _ := td.store.Items(ctx)
	if len(items) != 1 || items[0].Text != "Buy milk" {
		t.Errorf("mirror = %+v", items)
	}
	if td.d.monitor.Online() {
		t.Error("network failure should flip the monitor offline")
	}
}

func TestOfflinePatchAndDeleteSynthesis(t *testing.T) {
	td := newTestDaemon(t, Config{})
	ctx := context.Background()

	seed := models.Item{ID: "42", Text: "note", CreatedAt: time.Now().UTC()}
	if err := td.store.UpsertItem(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := td.do(t, "PATCH", "/rest/v1/items?id=eq.42", `{"completed":true}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	rows := decodeRows(t, resp)
	if len(rows) != 1 || !rows[0].Completed || rows[0].Content != "note" {
		t.Errorf("patch rows = %+v", rows)
	}

	resp = td.do(t, "DELETE", "/rest/v1/items?id=eq.42", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	muts, _ := td.store.Mutations(ctx)
	if len(muts) != 2 || muts[0].Action != models.ActionUpdate || muts[1].Action != models.ActionDelete {
		t.Fatalf("queue = %+v", muts)
	}
	for _, m := range muts {
		if m.ItemID != "42" {
			t.Errorf("queued id = %q, want 42", m.ItemID)
		}
	}

	items, _ := td.store.Items(ctx)
	if len(items) != 0 {
		t.Errorf("mirror after delete = %+v", items)
	}
}

func TestOfflineGetServesMirror(t *testing.T) {
	td := newTestDaemon(t, Config{})
	ctx := context.Background()

	if err := td.store.UpsertItem(ctx, models.Item{ID: "7", Text: "cached", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := td.do(t, "GET", "/rest/v1/items?user_id=eq.u1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	rows := decodeRows(t, resp)
	if len(rows) != 1 || rows[0].Content != "cached" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestOnlineAPIPassesThroughWithAuth(t *testing.T) {
	var gotAuth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("X-Upstream", "real")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":9,"content":"from server"}]`))
	}))
	defer api.Close()

	td := newTestDaemon(t, Config{APIBase: api.URL, Token: "tok-1"})

	resp := td.do(t, "POST", "/rest/v1/items", `{"content":"x","user_id":"u1"}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("auth = %q", gotAuth)
	}
	if resp.Header.Get("X-Upstream") != "real" {
		t.Error("response not returned untouched")
	}
	rows := decodeRows(t, resp)
	if len(rows) != 1 || rows[0].ID != "9" {
		t.Errorf("rows = %+v", rows)
	}

	// Online path records nothing locally.
	muts, _ := td.store.Mutations(context.Background())
	if len(muts) != 0 {
		t.Errorf("online request queued mutations: %+v", muts)
	}
	if !td.d.monitor.Online() {
		t.Error("successful API call should mark online")
	}
}

func TestAssetCacheFirst(t *testing.T) {
	fetches := 0
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Header().Set("Content-Type", "text/css")
		w.Write([]byte("body{}"))
	}))
	defer origin.Close()

	td := newTestDaemon(t, Config{Origin: origin.URL})

	// Miss populates the cache.
	resp := td.do(t, "GET", "/style.css", "", nil)
	if resp.StatusCode != http.StatusOK || fetches != 1 {
		t.Fatalf("status=%d fetches=%d", resp.StatusCode, fetches)
	}

	// Hit skips the origin.
	resp = td.do(t, "GET", "/style.css", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1 (second request must come from cache)", fetches)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/css" {
		t.Errorf("cached content-type = %q", ct)
	}
}

func TestAssetErrorResponsesNotCached(t *testing.T) {
	status := http.StatusInternalServerError
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer origin.Close()

	td := newTestDaemon(t, Config{Origin: origin.URL})

	resp := td.do(t, "GET", "/flaky.js", "", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// A later success must reach the origin, not a cached 500.
	status = http.StatusOK
	resp = td.do(t, "GET", "/flaky.js", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("second status = %d, want 200 (500 must not be cached)", resp.StatusCode)
	}
}

func TestOfflineNavigationGetsFallbackPage(t *testing.T) {
	td := newTestDaemon(t, Config{}) // no origin: network always fails

	header := http.Header{"Accept": {"text/html,application/xhtml+xml"}}
	resp := td.do(t, "GET", "/some/page", "", header)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("content-type = %q", ct)
	}
}

func TestOfflineResourceGetsSyntheticStatus(t *testing.T) {
	td := newTestDaemon(t, Config{})

	resp := td.do(t, "GET", "/bundle.js", "", nil)
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}
}

func TestNonGETNonAPIPassesThrough(t *testing.T) {
	var gotMethod string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer origin.Close()

	td := newTestDaemon(t, Config{Origin: origin.URL})

	resp := td.do(t, "POST", "/analytics/event", `{"k":"v"}`, nil)
	if resp.StatusCode != http.StatusAccepted || gotMethod != "POST" {
		t.Errorf("status=%d method=%q", resp.StatusCode, gotMethod)
	}
	muts, _ := td.store.Mutations(context.Background())
	if len(muts) != 0 {
		t.Errorf("pass-through queued mutations: %+v", muts)
	}
}

func TestSetTokenMessage(t *testing.T) {
	td := newTestDaemon(t, Config{Token: "old"})

	resp := td.do(t, "POST", "/_tsync/token", `{"token":"fresh"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := td.d.client.Token(); got != "fresh" {
		t.Errorf("token = %q, want fresh", got)
	}

	resp = td.do(t, "POST", "/_tsync/token", `{}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty token status = %d, want 400", resp.StatusCode)
	}
}

func TestActivateMessage(t *testing.T) {
	root := t.TempDir()
	// Leave a stale generation behind.
	stale, err := NewCache(root, "old-gen")
	if err != nil {
		t.Fatalf("stale cache: %v", err)
	}
	stale.Put("GET /x", &Entry{Status: 200, Body: []byte("stale")})

	td := newTestDaemon(t, Config{CacheRoot: root, Generation: "new-gen"})

	resp := td.do(t, "POST", "/_tsync/activate", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Generation string `json:"generation"`
		Removed    int    `json:"removed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Generation != "new-gen" || body.Removed != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestConnectivityAndStatusMessages(t *testing.T) {
	td := newTestDaemon(t, Config{})
	ctx := context.Background()

	if _, err := td.store.AppendMutation(ctx, models.Mutation{Action: models.ActionDelete, ItemID: "1"}); err != nil {
		t.Fatalf("seed queue: %v", err)
	}

	resp := td.do(t, "POST", "/_tsync/connectivity", `{"online":false}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if td.d.monitor.Online() {
		t.Error("monitor still online")
	}

	resp = td.do(t, "GET", "/_tsync/status", "", nil)
	var status struct {
		Online     bool   `json:"online"`
		Pending    int    `json:"pending"`
		Generation string `json:"generation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Online || status.Pending != 1 || status.Generation != "test-gen" {
		t.Errorf("status = %+v", status)
	}
}
