// Package store is the local durable store: a SQLite database holding
// the mirror of the server-side item collection and the queue of
// pending offline mutations. Both survive process restart and work
// without network connectivity.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/telaman/tsync/internal/models"
	_ "modernc.org/sqlite"
)

const dbFile = "tsync.db"

// ErrUnavailable is returned by write operations when the store could
// not be opened. Callers proceed in memory and skip durability for
// that one write; read operations on an unavailable store return empty
// collections instead of failing.
var ErrUnavailable = errors.New("store unavailable")

// Store wraps the SQLite connection. A nil *Store is valid and behaves
// as an unavailable store: reads come back empty, writes return
// ErrUnavailable.
type Store struct {
	conn *sql.DB

	mu     sync.Mutex
	lastTS int64
}

// Open opens (or creates) the store under baseDir and applies the
// schema. The open sequence matches what the rest of the tool expects:
// WAL for concurrent readers, a short busy timeout, relaxed sync.
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	conn, err := sql.Open("sqlite", filepath.Join(baseDir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// OpenConn wraps an existing connection, applying the schema. Used by
// tests that want an in-memory database.
func OpenConn(conn *sql.DB) (*Store, error) {
	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection. Safe on a nil store.
func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Conn exposes the raw connection for tests.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// --- Mirror (cached_items) ---

// Items returns the full mirror, ordered by creation time.
func (s *Store) Items(ctx context.Context) ([]models.Item, error) {
	if s == nil || s.conn == nil {
		return nil, nil
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, text, completed, created_at FROM cached_items ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var it models.Item
		var completed int
		var createdAt string
		if err := rows.Scan(&it.ID, &it.Text, &completed, &createdAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Completed = completed != 0
		it.CreatedAt, err = parseTimestamp(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", it.ID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return items, nil
}

// ReplaceItems swaps the whole mirror for the given collection in one
// transaction. Used after a server refresh.
func (s *Store) ReplaceItems(ctx context.Context, items []models.Item) error {
	if s == nil || s.conn == nil {
		return ErrUnavailable
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cached_items`); err != nil {
		return fmt.Errorf("clear mirror: %w", err)
	}
	for _, it := range items {
		if _, err := tx.Exec(
			`INSERT INTO cached_items (id, text, completed, created_at) VALUES (?, ?, ?, ?)`,
			it.ID, it.Text, boolInt(it.Completed), it.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpsertItem inserts or replaces a single mirror row.
func (s *Store) UpsertItem(ctx context.Context, it models.Item) error {
	if s == nil || s.conn == nil {
		return ErrUnavailable
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO cached_items (id, text, completed, created_at) VALUES (?, ?, ?, ?)`,
		it.ID, it.Text, boolInt(it.Completed), it.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", it.ID, err)
	}
	return nil
}

// DeleteItem removes a mirror row. No-op if the row does not exist.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	if s == nil || s.conn == nil {
		return ErrUnavailable
	}
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM cached_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	return nil
}

// --- Pending mutation queue (offline_mutations) ---

// AppendMutation adds a mutation to the queue and returns its assigned
// timestamp key. Timestamps are unix nanoseconds, bumped past the last
// assigned value so two near-simultaneous appends never collide.
func (s *Store) AppendMutation(ctx context.Context, m models.Mutation) (int64, error) {
	if s == nil || s.conn == nil {
		return 0, ErrUnavailable
	}

	s.mu.Lock()
	ts := time.Now().UnixNano()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	s.mu.Unlock()

	data := m.Data
	if data == nil {
		data = json.RawMessage(`{}`)
	}
	if _, err := s.conn.ExecContext(ctx,
		`INSERT INTO offline_mutations (ts, action, item_id, data) VALUES (?, ?, ?, ?)`,
		ts, string(m.Action), m.ItemID, string(data),
	); err != nil {
		return 0, fmt.Errorf("append mutation: %w", err)
	}
	return ts, nil
}

// Mutations returns all queued mutations, oldest first. Order is
// enforced here by timestamp, not by storage iteration order.
func (s *Store) Mutations(ctx context.Context) ([]models.Mutation, error) {
	if s == nil || s.conn == nil {
		return nil, nil
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT ts, action, item_id, data FROM offline_mutations ORDER BY ts ASC`)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	var muts []models.Mutation
	for rows.Next() {
		var m models.Mutation
		var action, data string
		if err := rows.Scan(&m.TS, &action, &m.ItemID, &data); err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		m.Action = models.Action(action)
		m.Data = json.RawMessage(data)
		muts = append(muts, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return muts, nil
}

// DeleteMutation removes a queue entry by its timestamp key. Called
// only after the corresponding remote call succeeded.
func (s *Store) DeleteMutation(ctx context.Context, ts int64) error {
	if s == nil || s.conn == nil {
		return ErrUnavailable
	}
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM offline_mutations WHERE ts = ?`, ts); err != nil {
		return fmt.Errorf("delete mutation %d: %w", ts, err)
	}
	return nil
}

// PendingCount returns the queue depth. Zero on an unavailable store.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	if s == nil || s.conn == nil {
		return 0, nil
	}
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_mutations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count mutations: %w", err)
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseTimestamp tries the timestamp formats SQLite hands back.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
