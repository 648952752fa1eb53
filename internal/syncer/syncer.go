// Package syncer drains the pending offline mutation queue against the
// remote item API once connectivity is available.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/telaman/tsync/internal/models"
	"github.com/telaman/tsync/internal/remote"
	"github.com/telaman/tsync/internal/store"
)

// Report summarises one drain pass. Drain failures are observability
// data, never operation errors: failed entries stay queued and are
// retried on the next connectivity event.
type Report struct {
	Attempted int
	Succeeded int
	Failed    int
	At        time.Time
}

// Processor drains queued mutations sequentially, oldest first. Drains
// are serialized: a call that arrives while a pass is running joins
// the in-flight pass instead of starting a second one.
type Processor struct {
	store  *store.Store
	client *remote.Client
	userID string

	group singleflight.Group

	mu   sync.Mutex
	last *Report
}

// New creates a processor over the given store and API client.
func New(st *store.Store, client *remote.Client, userID string) *Processor {
	return &Processor{store: st, client: client, userID: userID}
}

// SetToken refreshes the bearer credential used for sync calls.
func (p *Processor) SetToken(token string) {
	p.client.SetToken(token)
}

// LastReport returns the most recent drain outcome, or nil if no drain
// has run yet.
func (p *Processor) LastReport() *Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Drain processes every mutation queued at the start of the pass, in
// timestamp order. Each entry is attempted exactly once per pass: a
// 2xx removes it from the queue, anything else leaves it for the next
// pass and processing moves on to the following entry. Entries queued
// mid-pass wait for the next drain.
func (p *Processor) Drain(ctx context.Context) Report {
	v, _, _ := p.group.Do("drain", func() (any, error) {
		return p.drainPass(ctx), nil
	})
	return v.(Report)
}

func (p *Processor) drainPass(ctx context.Context) Report {
	report := Report{At: time.Now()}

	muts, err := p.store.Mutations(ctx)
	if err != nil {
		slog.Warn("sync: read queue", "err", err)
		p.record(report)
		return report
	}
	if len(muts) == 0 {
		p.record(report)
		return report
	}

	for _, m := range muts {
		report.Attempted++
		if err := p.apply(ctx, m); err != nil {
			report.Failed++
			slog.Debug("sync: mutation failed, retained", "ts", m.TS, "action", m.Action, "err", err)
			continue
		}
		if err := p.store.DeleteMutation(ctx, m.TS); err != nil {
			// The remote call succeeded but the queue entry could not
			// be removed; the next pass re-sends it. Updates and
			// deletes re-apply cleanly, a re-sent add duplicates.
			slog.Warn("sync: dequeue after success", "ts", m.TS, "err", err)
		}
		report.Succeeded++
	}

	slog.Info("sync: drain complete",
		"attempted", report.Attempted, "succeeded", report.Succeeded, "failed", report.Failed)
	p.record(report)
	return report
}

// apply issues the remote call for a single queue entry.
func (p *Processor) apply(ctx context.Context, m models.Mutation) error {
	if p.client.Token() == "" {
		return remote.ErrNoCredential
	}

	switch m.Action {
	case models.ActionAdd:
		var data struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(m.Data, &data); err != nil {
			return fmt.Errorf("decode add data: %w", err)
		}
		if _, err := p.client.CreateItem(ctx, data.Content, p.userID); err != nil {
			return err
		}
		return nil
	case models.ActionUpdate:
		var patch remote.Patch
		if err := json.Unmarshal(m.Data, &patch); err != nil {
			return fmt.Errorf("decode update data: %w", err)
		}
		return p.client.UpdateItem(ctx, m.ItemID, patch)
	case models.ActionDelete:
		return p.client.DeleteItem(ctx, m.ItemID)
	default:
		return fmt.Errorf("unknown action %q", m.Action)
	}
}

func (p *Processor) record(r Report) {
	p.mu.Lock()
	p.last = &r
	p.mu.Unlock()
}
