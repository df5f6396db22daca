package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Push is one inbound server event delivered to listeners.
type Push struct {
	Event      string
	Identity   string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Listener receives pushes in arrival order. Errors and panics are isolated
// per listener.
type Listener func(ctx context.Context, push Push) error

type listenerEntry struct {
	token uint64
	fn    Listener
}

// registry keeps listeners in registration order behind stable tokens.
type registry struct {
	mu      sync.RWMutex
	next    uint64
	entries []listenerEntry
}

func (r *registry) add(fn Listener) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries = append(r.entries, listenerEntry{token: r.next, fn: fn})
	return r.next
}

func (r *registry) remove(token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.token == token {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *registry) snapshot() []listenerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]listenerEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *registry) clear() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
