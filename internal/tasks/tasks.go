// Package tasks is the facade the UI layer calls to add, toggle and
// delete items without knowing whether the device is online. Every
// operation keeps the local mirror consistent immediately; the offline
// path additionally queues the mutation for the next sync drain.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/telaman/tsync/internal/models"
	"github.com/telaman/tsync/internal/netmon"
	"github.com/telaman/tsync/internal/remote"
	"github.com/telaman/tsync/internal/store"
	"github.com/telaman/tsync/internal/syncer"
)

// ErrEmptyText rejects item creation with no content.
var ErrEmptyText = errors.New("item text is empty")

// ErrNotFoundLocally is returned when an operation targets an item the
// mirror does not contain.
var ErrNotFoundLocally = errors.New("item not in local mirror")

// Service implements the view-facing operations over the store, the
// remote client, the connectivity monitor and the queue processor.
type Service struct {
	store   *store.Store
	client  *remote.Client
	monitor *netmon.Monitor
	proc    *syncer.Processor
	userID  string

	// RollbackOnReject restores the previous mirror state when the
	// server rejects an online mutation (non-2xx). Off by default:
	// the optimistic write stays and the operation reports failure.
	RollbackOnReject bool
}

// New creates the facade service.
func New(st *store.Store, client *remote.Client, monitor *netmon.Monitor, proc *syncer.Processor, userID string) *Service {
	return &Service{store: st, client: client, monitor: monitor, proc: proc, userID: userID}
}

// List returns the current mirror. A degraded store yields an empty
// list, never an error.
func (s *Service) List(ctx context.Context) []models.Item {
	items, err := s.store.Items(ctx)
	if err != nil {
		slog.Warn("list: read mirror", "err", err)
		return nil
	}
	return items
}

// Add creates an item. Online, the server assigns the id; offline, a
// placeholder id is generated and an add mutation queued.
func (s *Service) Add(ctx context.Context, text string) (models.Item, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Item{}, ErrEmptyText
	}

	if s.monitor.Online() {
		row, err := s.client.CreateItem(ctx, text, s.userID)
		if err != nil {
			if errors.Is(err, remote.ErrNetwork) {
				// Monitor said online but the network disagreed.
				s.monitor.Set(false)
				return s.addOffline(ctx, text)
			}
			return models.Item{}, fmt.Errorf("add item: %w", err)
		}
		it := itemFromRow(*row)
		s.mirrorUpsert(ctx, it)
		return it, nil
	}
	return s.addOffline(ctx, text)
}

func (s *Service) addOffline(ctx context.Context, text string) (models.Item, error) {
	it := models.Item{
		ID:        models.NewPlaceholderID(),
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	data, _ := json.Marshal(map[string]any{"content": text})
	s.enqueue(ctx, models.Mutation{Action: models.ActionAdd, ItemID: it.ID, Data: data})
	s.mirrorUpsert(ctx, it)
	return it, nil
}

// Toggle flips an item's completed flag.
func (s *Service) Toggle(ctx context.Context, id string) (models.Item, error) {
	it, err := s.find(ctx, id)
	if err != nil {
		return models.Item{}, err
	}
	prev := it
	it.Completed = !it.Completed

	completed := it.Completed
	err = s.apply(ctx, op{
		action: models.ActionUpdate,
		itemID: id,
		patch:  remote.Patch{Completed: &completed},
		write:  func(ctx context.Context) { s.mirrorUpsert(ctx, it) },
		undo:   func(ctx context.Context) { s.mirrorUpsert(ctx, prev) },
	})
	if err != nil {
		return models.Item{}, err
	}
	return it, nil
}

// Delete removes an item locally and remotely (or queues the delete).
func (s *Service) Delete(ctx context.Context, id string) error {
	it, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	return s.apply(ctx, op{
		action: models.ActionDelete,
		itemID: id,
		write: func(ctx context.Context) {
			if err := s.store.DeleteItem(ctx, id); err != nil {
				slog.Warn("mirror delete skipped", "id", id, "err", err)
			}
		},
		undo: func(ctx context.Context) { s.mirrorUpsert(ctx, it) },
	})
}

// op describes one mutation for the single online/offline executor.
type op struct {
	action models.Action
	itemID string
	patch  remote.Patch
	write  func(ctx context.Context) // optimistic mirror write
	undo   func(ctx context.Context) // rollback of write
}

// apply is the one place the online/offline branch lives. The mirror
// write happens on both paths; only the remote side differs.
func (s *Service) apply(ctx context.Context, o op) error {
	o.write(ctx)

	if !s.monitor.Online() {
		s.enqueueOp(ctx, o)
		return nil
	}

	var err error
	switch o.action {
	case models.ActionUpdate:
		err = s.client.UpdateItem(ctx, o.itemID, o.patch)
	case models.ActionDelete:
		err = s.client.DeleteItem(ctx, o.itemID)
	default:
		err = fmt.Errorf("unsupported action %q", o.action)
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, remote.ErrNetwork) {
		// Went offline mid-operation: degrade to the queued path.
		s.monitor.Set(false)
		s.enqueueOp(ctx, o)
		return nil
	}

	// Remote rejection with a reachable server.
	if s.RollbackOnReject {
		o.undo(ctx)
	}
	return fmt.Errorf("%s item: %w", o.action, err)
}

func (s *Service) enqueueOp(ctx context.Context, o op) {
	var data json.RawMessage
	if o.action == models.ActionUpdate {
		data, _ = json.Marshal(o.patch)
	}
	s.enqueue(ctx, models.Mutation{Action: o.action, ItemID: o.itemID, Data: data})
}

// Refresh replaces the mirror with the server's current collection.
func (s *Service) Refresh(ctx context.Context) ([]models.Item, error) {
	rows, err := s.client.ListItems(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	items := make([]models.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, itemFromRow(r))
	}
	if err := s.store.ReplaceItems(ctx, items); err != nil {
		slog.Warn("refresh: mirror write skipped", "err", err)
	}
	return items, nil
}

// Reconnect is the online-transition path: drain the queue first, then
// refresh from the server. The order matters — refreshing before the
// drain would clobber local-only changes with stale server state.
func (s *Service) Reconnect(ctx context.Context) (syncer.Report, []models.Item, error) {
	report := s.proc.Drain(ctx)
	items, err := s.Refresh(ctx)
	return report, items, err
}

// Pending returns the current queue depth.
func (s *Service) Pending(ctx context.Context) int {
	n, err := s.store.PendingCount(ctx)
	if err != nil {
		slog.Warn("pending count", "err", err)
	}
	return n
}

func (s *Service) find(ctx context.Context, id string) (models.Item, error) {
	items, err := s.store.Items(ctx)
	if err != nil {
		slog.Warn("find: read mirror", "err", err)
	}
	for _, it := range items {
		if it.ID == id {
			return it, nil
		}
	}
	return models.Item{}, fmt.Errorf("%w: %s", ErrNotFoundLocally, id)
}

// mirrorUpsert writes to the mirror, degrading to in-memory-only when
// the store is unavailable.
func (s *Service) mirrorUpsert(ctx context.Context, it models.Item) {
	if err := s.store.UpsertItem(ctx, it); err != nil {
		slog.Warn("mirror write skipped", "id", it.ID, "err", err)
	}
}

func (s *Service) enqueue(ctx context.Context, m models.Mutation) {
	if _, err := s.store.AppendMutation(ctx, m); err != nil {
		slog.Warn("mutation not queued, durability degraded", "action", m.Action, "err", err)
	}
}

func itemFromRow(r remote.ItemRow) models.Item {
	it := models.Item{
		ID:        string(r.ID),
		Text:      r.Content,
		Completed: r.Completed,
	}
	if t, err := time.Parse(time.RFC3339Nano, r.CreatedAt); err == nil {
		it.CreatedAt = t
	} else if t, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
		it.CreatedAt = t
	} else {
		it.CreatedAt = time.Now().UTC()
	}
	return it
}
