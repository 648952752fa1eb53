// Package proxy is the background worker that fronts the app's
// outbound traffic: cache-first for static assets, network-first with
// offline synthesis for the item API, pass-through for everything
// else. It runs independently of any CLI invocation, owns the durable
// store handle and the sync queue processor, and is reachable only via
// the requests it intercepts and a small set of control messages.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/telaman/tsync/internal/netmon"
	"github.com/telaman/tsync/internal/remote"
	"github.com/telaman/tsync/internal/store"
	"github.com/telaman/tsync/internal/syncer"
	"github.com/telaman/tsync/internal/tasks"
)

// Config configures the serve daemon.
type Config struct {
	ListenAddr string
	APIBase    string // remote item API base URL
	Origin     string // upstream origin for asset requests; empty = cache only
	UserID     string
	Token      string
	CacheRoot  string
	Generation string // cache generation name, normally the build version

	// AuthFile, when set, is watched for changes; ReloadToken is then
	// called to pick up a refreshed credential without a restart.
	AuthFile    string
	ReloadToken func() string

	Precache     []string      // asset paths refreshed on wake-up
	WakeInterval time.Duration // 0 disables the periodic wake-up
}

// Daemon is the running background worker.
type Daemon struct {
	cfg     Config
	store   *store.Store
	monitor *netmon.Monitor
	client  *remote.Client
	proc    *syncer.Processor
	svc     *tasks.Service
	cache   *Cache

	http      *http.Server
	transport *http.Client
	watcher   *fsnotify.Watcher
	cancel    context.CancelFunc
}

// NewDaemon wires the worker. The store handle is owned by the daemon
// from here on.
func NewDaemon(cfg Config, st *store.Store) (*Daemon, error) {
	cache, err := NewCache(cfg.CacheRoot, cfg.Generation)
	if err != nil {
		return nil, err
	}

	monitor := netmon.New(true)
	client := remote.New(cfg.APIBase, cfg.Token)
	proc := syncer.New(st, client, cfg.UserID)

	d := &Daemon{
		cfg:       cfg,
		store:     st,
		monitor:   monitor,
		client:    client,
		proc:      proc,
		svc:       tasks.New(st, client, monitor, proc, cfg.UserID),
		cache:     cache,
		transport: &http.Client{Timeout: 30 * time.Second},
	}

	d.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      d.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return d, nil
}

// Start begins listening and launches the background loops
// (non-blocking).
func (d *Daemon) Start() error {
	ln, err := net.Listen("tcp", d.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := d.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("proxy server", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	// Reconnection drains: every offline→online transition triggers
	// drain-then-refresh.
	d.monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		go func() {
			report, _, err := d.svc.Reconnect(ctx)
			if err != nil {
				slog.Debug("reconnect refresh", "err", err)
			}
			slog.Info("reconnect drain", "succeeded", report.Succeeded, "failed", report.Failed)
		}()
	})

	d.watchAuthFile(ctx)
	d.startWakeup(ctx)

	// Install-step analogue: warm the precache set once at startup.
	go d.refreshPrecache(ctx)

	slog.Info("proxy listening", "addr", d.cfg.ListenAddr, "generation", d.cache.Generation())
	return nil
}

// Shutdown stops the server and background loops.
func (d *Daemon) Shutdown(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.watcher != nil {
		d.watcher.Close()
	}
	return d.http.Shutdown(ctx)
}

// Addr returns the bound listen address.
func (d *Daemon) Addr() string {
	return d.http.Addr
}

// setToken propagates a refreshed credential to the client shared by
// the processor and the interception path. The credential lives here,
// in the worker, set only through this message path.
func (d *Daemon) setToken(token string) {
	d.client.SetToken(token)
	slog.Debug("auth token refreshed")
}

// watchAuthFile hot-reloads the credential when the auth file changes.
func (d *Daemon) watchAuthFile(ctx context.Context) {
	if d.cfg.AuthFile == "" || d.cfg.ReloadToken == nil {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("auth file watch unavailable", "err", err)
		return
	}
	// Watch the directory: editors and SaveAuth replace the file.
	if err := watcher.Add(filepath.Dir(d.cfg.AuthFile)); err != nil {
		slog.Warn("watch auth dir", "err", err)
		watcher.Close()
		return
	}
	d.watcher = watcher

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != d.cfg.AuthFile {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
					d.setToken(d.cfg.ReloadToken())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Debug("auth watch", "err", err)
			}
		}
	}()
}

// startWakeup runs the periodic best-effort precache refresh.
func (d *Daemon) startWakeup(ctx context.Context) {
	if d.cfg.WakeInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(d.cfg.WakeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.refreshPrecache(ctx)
			}
		}
	}()
}

// refreshPrecache re-fetches the fixed precache set into the cache.
// Failures are swallowed: this is opportunistic freshening, nothing
// depends on it.
func (d *Daemon) refreshPrecache(ctx context.Context) {
	if d.cfg.Origin == "" {
		return
	}
	for _, path := range d.cfg.Precache {
		entry, err := d.fetchAsset(ctx, path)
		if err != nil {
			slog.Debug("precache fetch", "path", path, "err", err)
			continue
		}
		if entry.Status >= 200 && entry.Status < 300 {
			if err := d.cache.Put(assetKey(path), entry); err != nil {
				slog.Debug("precache store", "path", path, "err", err)
			}
		}
	}
}
