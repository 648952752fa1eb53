package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/telaman/tsync/internal/models"
	"github.com/telaman/tsync/internal/remote"
)

const apiPrefix = "/rest/v1/"

// offlinePage is served to navigation requests when both cache and
// network fail and no cached offline page exists.
const offlinePage = `<!doctype html>
<html><head><title>Offline</title></head>
<body><h1>You are offline</h1><p>Changes you make will sync when connectivity returns.</p></body></html>`

// routes builds the daemon's handler: control messages first, then the
// catch-all interception path.
func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /_tsync/token", d.handleSetToken)
	mux.HandleFunc("POST /_tsync/activate", d.handleActivate)
	mux.HandleFunc("POST /_tsync/connectivity", d.handleConnectivity)
	mux.HandleFunc("GET /_tsync/status", d.handleStatus)

	mux.HandleFunc("/", d.handleIntercept)

	return recoveryMiddleware(mux)
}

// recoveryMiddleware converts panics into 500s instead of dropping the
// connection.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("handler panic", "panic", rec, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// --- Control messages ---

// handleSetToken is the SET_AUTH_TOKEN message: refresh the bearer
// credential used for synthesized and sync calls.
func (d *Daemon) handleSetToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token required"})
		return
	}
	d.setToken(body.Token)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleActivate is the SKIP_WAITING message: promote this generation
// immediately, deleting every other cache generation.
func (d *Daemon) handleActivate(w http.ResponseWriter, r *http.Request) {
	removed, err := d.cache.Activate()
	if err != nil {
		slog.Warn("activate", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	slog.Info("cache generation activated", "generation", d.cache.Generation(), "removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{"generation": d.cache.Generation(), "removed": removed})
}

// handleConnectivity is the runtime's network-state notification.
func (d *Daemon) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "online flag required"})
		return
	}
	d.monitor.Set(*body.Online)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports worker state for the CLI and the monitor TUI.
func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := d.store.PendingCount(r.Context())
	if err != nil {
		slog.Debug("status pending count", "err", err)
	}
	resp := map[string]any{
		"online":     d.monitor.Online(),
		"pending":    pending,
		"generation": d.cache.Generation(),
	}
	if last := d.proc.LastReport(); last != nil {
		resp["last_drain"] = map[string]any{
			"attempted": last.Attempted,
			"succeeded": last.Succeeded,
			"failed":    last.Failed,
			"at":        last.At.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Interception ---

// handleIntercept applies one of three strategies by request shape:
// API paths are network-first with offline synthesis, other non-GET
// traffic passes through untouched, static assets are cache-first.
func (d *Daemon) handleIntercept(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, apiPrefix):
		d.apiNetworkFirst(w, r)
	case r.Method != http.MethodGet:
		d.passThrough(w, r)
	default:
		d.assetCacheFirst(w, r)
	}
}

// apiNetworkFirst forwards an API request and, when the network is
// down, synthesizes a success for item mutations so the caller cannot
// tell the difference by shape.
func (d *Daemon) apiNetworkFirst(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}

	resp, err := d.forward(r, d.cfg.APIBase, body, true)
	if err == nil {
		defer resp.Body.Close()
		d.monitor.Set(true)
		copyResponse(w, resp)
		return
	}

	// Network failure. Item-collection requests get a synthesized
	// local success; anything else gets the offline fallback.
	slog.Debug("api network failure", "path", r.URL.Path, "err", err)
	d.monitor.Set(false)

	if strings.HasPrefix(r.URL.Path, apiPrefix+"items") {
		d.synthesize(w, r, body)
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "offline"})
}

// synthesize records the offline mutation intent and fabricates the
// response the real API would have produced.
func (d *Daemon) synthesize(w http.ResponseWriter, r *http.Request, body []byte) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Content string `json:"content"`
			UserID  string `json:"user_id"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.Content == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content required"})
			return
		}
		it := models.Item{
			ID:        models.NewPlaceholderID(),
			Text:      req.Content,
			CreatedAt: time.Now().UTC(),
		}
		data, _ := json.Marshal(map[string]any{"content": it.Text})
		d.record(ctx, models.Mutation{Action: models.ActionAdd, ItemID: it.ID, Data: data})
		d.mirrorUpsert(ctx, it)
		writeJSON(w, http.StatusCreated, []remote.ItemRow{rowFromItem(it, req.UserID)})

	case http.MethodPatch, http.MethodPut:
		id := itemIDFromRequest(r)
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "item id required"})
			return
		}
		var patch remote.Patch
		if err := json.Unmarshal(body, &patch); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid patch"})
			return
		}
		d.record(ctx, models.Mutation{Action: models.ActionUpdate, ItemID: id, Data: body})
		it, found := d.mirrorPatch(ctx, id, patch)
		if !found {
			it = models.Item{ID: id, CreatedAt: time.Now().UTC()}
		}
		writeJSON(w, http.StatusOK, []remote.ItemRow{rowFromItem(it, d.cfg.UserID)})

	case http.MethodDelete:
		id := itemIDFromRequest(r)
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "item id required"})
			return
		}
		d.record(ctx, models.Mutation{Action: models.ActionDelete, ItemID: id})
		if err := d.store.DeleteItem(ctx, id); err != nil {
			slog.Warn("offline delete mirror", "id", id, "err", err)
		}
		writeJSON(w, http.StatusOK, []remote.ItemRow{})

	case http.MethodGet:
		// Offline read of the collection: serve the mirror.
		items, err := d.store.Items(ctx)
		if err != nil {
			slog.Warn("offline list mirror", "err", err)
		}
		rows := make([]remote.ItemRow, 0, len(items))
		for _, it := range items {
			rows = append(rows, rowFromItem(it, d.cfg.UserID))
		}
		writeJSON(w, http.StatusOK, rows)

	default:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "offline"})
	}
}

// passThrough proxies a request to the configured origin untouched.
// Mutations to non-API endpoints are never intercepted here — the
// queue path owns offline mutation handling.
func (d *Daemon) passThrough(w http.ResponseWriter, r *http.Request) {
	if d.cfg.Origin == "" {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "no origin configured"})
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	resp, err := d.forward(r, d.cfg.Origin, body, false)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unreachable"})
		return
	}
	defer resp.Body.Close()
	copyResponse(w, resp)
}

// assetCacheFirst serves static requests from cache, falling back to
// the network and storing successful responses for next time.
func (d *Daemon) assetCacheFirst(w http.ResponseWriter, r *http.Request) {
	key := assetKey(r.URL.RequestURI())
	if entry, ok := d.cache.Get(key); ok {
		serveEntry(w, entry)
		return
	}

	if d.cfg.Origin != "" {
		entry, err := d.fetchAsset(r.Context(), r.URL.RequestURI())
		if err == nil {
			d.monitor.Set(true)
			if entry.Status >= 200 && entry.Status < 300 {
				if err := d.cache.Put(key, entry); err != nil {
					slog.Debug("cache store", "key", key, "err", err)
				}
			}
			serveEntry(w, entry)
			return
		}
		slog.Debug("asset fetch", "path", r.URL.Path, "err", err)
		d.monitor.Set(false)
	}

	// Cache and network both failed.
	if isNavigation(r) {
		if entry, ok := d.cache.Get(assetKey("/offline.html")); ok {
			serveEntry(w, entry)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, offlinePage)
		return
	}
	// Distinguishable synthetic status instead of a dropped request.
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusGatewayTimeout)
	io.WriteString(w, "offline")
}

// --- helpers ---

// forward re-issues the incoming request against base. withAuth
// injects the worker's current bearer credential when the request
// carries none.
func (d *Daemon) forward(r *http.Request, base string, body []byte, withAuth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, base+r.URL.RequestURI(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	if withAuth && req.Header.Get("Authorization") == "" {
		if tok := d.client.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return d.transport.Do(req)
}

// fetchAsset fetches one asset path from the origin into an Entry.
func (d *Daemon) fetchAsset(ctx context.Context, path string) (*Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.Origin+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.transport.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Entry{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: data}, nil
}

func (d *Daemon) record(ctx context.Context, m models.Mutation) {
	if _, err := d.store.AppendMutation(ctx, m); err != nil {
		slog.Warn("offline mutation not queued", "action", m.Action, "err", err)
	}
}

func (d *Daemon) mirrorUpsert(ctx context.Context, it models.Item) {
	if err := d.store.UpsertItem(ctx, it); err != nil {
		slog.Warn("mirror write skipped", "id", it.ID, "err", err)
	}
}

// mirrorPatch applies a patch to one mirror row, reporting whether the
// row existed.
func (d *Daemon) mirrorPatch(ctx context.Context, id string, patch remote.Patch) (models.Item, bool) {
	items, err := d.store.Items(ctx)
	if err != nil {
		slog.Warn("mirror read", "err", err)
		return models.Item{}, false
	}
	for _, it := range items {
		if it.ID != id {
			continue
		}
		if patch.Content != nil {
			it.Text = *patch.Content
		}
		if patch.Completed != nil {
			it.Completed = *patch.Completed
		}
		d.mirrorUpsert(ctx, it)
		return it, true
	}
	return models.Item{}, false
}

// itemIDFromRequest extracts the target id from the PostgREST-style
// id=eq.<id> filter, falling back to the final path segment.
func itemIDFromRequest(r *http.Request) string {
	if v := r.URL.Query().Get("id"); strings.HasPrefix(v, "eq.") {
		return strings.TrimPrefix(v, "eq.")
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		if seg := path[i+1:]; seg != "items" {
			return seg
		}
	}
	return ""
}

func rowFromItem(it models.Item, userID string) remote.ItemRow {
	return remote.ItemRow{
		ID:        remote.FlexID(it.ID),
		Content:   it.Text,
		Completed: it.Completed,
		UserID:    userID,
		CreatedAt: it.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func assetKey(requestURI string) string {
	return "GET " + requestURI
}

func isNavigation(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func serveEntry(w http.ResponseWriter, e *Entry) {
	copyHeader(w.Header(), e.Header)
	w.WriteHeader(e.Status)
	w.Write(e.Body)
}

func copyResponse(w http.ResponseWriter, resp *http.Response) {
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// copyHeader copies headers minus hop-by-hop fields.
func copyHeader(dst, src http.Header) {
	for k, vals := range src {
		switch http.CanonicalHeaderKey(k) {
		case "Connection", "Keep-Alive", "Proxy-Connection", "Transfer-Encoding", "Upgrade":
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json", "err", err)
	}
}
