package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action represents the kind of a queued offline mutation
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// PlaceholderPrefix marks item IDs generated locally while offline.
// The server never issues IDs with this prefix, so the prefix is the
// only way to tell a not-yet-reconciled item apart from a synced one.
const PlaceholderPrefix = "offline-"

// Item is a single synchronized task entry
type Item struct {
	ID        string    `json:"id"`
	Text      string    `json:"content"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// IsPlaceholder reports whether the item still carries a locally
// generated ID, i.e. was created offline and has not been renumbered.
func (i Item) IsPlaceholder() bool {
	return strings.HasPrefix(i.ID, PlaceholderPrefix)
}

// NewPlaceholderID generates a local item ID for an offline add.
func NewPlaceholderID() string {
	return PlaceholderPrefix + uuid.NewString()
}

// Mutation is a queued intent to apply an action against the remote API
// once connectivity returns. TS is both the queue ordering key and the
// deletion key once the mutation has been acknowledged.
type Mutation struct {
	TS     int64           `json:"timestamp"` // unix nanoseconds, unique
	Action Action          `json:"action"`
	ItemID string          `json:"id"`
	Data   json.RawMessage `json:"data,omitempty"` // item fields for add/update
}

// ItemPatch carries the changed fields of an update mutation.
// Pointer fields distinguish "unchanged" from zero values.
type ItemPatch struct {
	Text      *string `json:"content,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}
