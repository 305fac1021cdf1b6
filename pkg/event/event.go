// Package event implements the event registry: the mapping from a BiDi
// event name (e.g. "browsingContext.load") to a schema descriptor and a
// dispatch callback, consulted by the transport on every inbound event
// frame.
package event

import (
	"encoding/json"
	"sync"
)

// PayloadDecoder decodes a raw JSON event payload into its declared
// shape, mirroring command.ResultDecoder.
type PayloadDecoder func(raw json.RawMessage) (any, error)

// Descriptor pairs an event's payload schema with the callback that
// receives the decoded payload.
type Descriptor struct {
	Name     string
	Decode   PayloadDecoder
	Dispatch func(payload any)
}

// Registry maps event name to Descriptor. Registration is expected to
// happen during transport setup, before Connect, but runtime
// registration is safe: Register and Lookup share one mutex.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds or replaces the Descriptor for name. Last writer wins on
// collisions, by design: only the most recently registered dispatch for a
// given name is ever called.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[d.Name] = d
}

// Lookup returns the Descriptor for name, if any has been registered.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}
