package command

import (
	"fmt"
	"sync"
)

// Registry is the thread-safe CommandId -> PendingCommand table. Entries
// are inserted only by the send path and removed only by the caller's
// collect-result path, never by the receive path — the receive path only
// completes an entry in place.
type Registry struct {
	mu      sync.Mutex
	pending map[Id]*PendingCommand
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[Id]*PendingCommand)}
}

// Insert adds a new PendingCommand for id. It fails if id is already
// present — under the monotonic counter discipline this is unreachable in
// practice, but the check is mandatory per the transport's invariants.
func (r *Registry) Insert(id Id, cmd Command) (*PendingCommand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[id]; exists {
		return nil, fmt.Errorf("command: duplicate command id %d", id)
	}

	p := newPending(id, cmd)
	r.pending[id] = p
	return p, nil
}

// TryGet is a non-removing lookup used while decoding an inbound
// response, so a late response after Remove can still be told apart from
// one belonging to a live entry.
func (r *Registry) TryGet(id Id) (*PendingCommand, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[id]
	return p, ok
}

// Remove deletes and returns the entry for id, if present. Used by the
// caller side after it has observed completion.
func (r *Registry) Remove(id Id) (*PendingCommand, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return p, ok
}

// Len reports the number of still-pending entries. Mainly useful in
// tests asserting the registry drains after a round trip.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Drain completes every registered entry that has not completed yet with
// the given outcome; entries already completed keep their outcome. The
// entries stay registered until the caller takes them. Used on disconnect
// so no waiter can deadlock.
func (r *Registry) Drain(o Outcome) {
	r.mu.Lock()
	entries := make([]*PendingCommand, 0, len(r.pending))
	for _, p := range r.pending {
		entries = append(entries, p)
	}
	r.mu.Unlock()

	for _, p := range entries {
		p.complete(o)
	}
}

// Complete sets the outcome for id and signals completion, if the entry
// is still present and not already completed. It reports whether this
// call was the one that completed it.
func (r *Registry) Complete(id Id, o Outcome) bool {
	p, ok := r.TryGet(id)
	if !ok {
		return false
	}
	return p.complete(o)
}
