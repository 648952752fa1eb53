// Package netmon tracks the single online/offline connectivity state.
// It holds whatever the runtime last told it. There is no polling:
// state changes come in from the proxy's observed request outcomes and
// from explicit connectivity control messages.
package netmon

import (
	"log/slog"
	"sync"
)

// Monitor is an event-driven connectivity state holder. Subscribers
// are notified exactly once per genuine transition; setting the same
// state twice fires nothing.
type Monitor struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(online bool)
}

// New returns a monitor in the given initial state. The initial state
// does not count as a transition.
func New(online bool) *Monitor {
	return &Monitor{
		online: online,
		subs:   make(map[int]func(online bool)),
	}
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records a connectivity change. Callbacks run synchronously on
// the caller's goroutine, in no particular order, only when the state
// actually changed.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	cbs := make([]func(bool), 0, len(m.subs))
	for _, cb := range m.subs {
		cbs = append(cbs, cb)
	}
	m.mu.Unlock()

	slog.Debug("connectivity changed", "online", online)
	for _, cb := range cbs {
		cb(online)
	}
}

// Subscribe registers a transition callback and returns a cancel
// function. The callback is not invoked with the current state.
func (m *Monitor) Subscribe(cb func(online bool)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = cb
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}
