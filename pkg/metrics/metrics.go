// Package metrics tracks counters for connection attempts, command
// lifecycle, and event dispatch, in the same mutex-guarded
// counters-plus-snapshot shape the corpus uses for its streaming metrics.
package metrics

import "sync"

// Metrics accumulates counters for one Transport instance.
type Metrics struct {
	mu sync.RWMutex

	ConnectionAttempts int64
	ConnectionFailures int64

	CommandsSent      int64
	CommandsCompleted int64
	CommandsTimedOut  int64

	EventsDispatched int64
	EventsDropped    int64
}

// New returns a zeroed Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordConnectionAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConnectionAttempts++
}

func (m *Metrics) RecordConnectionFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConnectionFailures++
}

func (m *Metrics) RecordCommandSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommandsSent++
}

func (m *Metrics) RecordCommandCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommandsCompleted++
}

func (m *Metrics) RecordCommandTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommandsTimedOut++
}

func (m *Metrics) RecordEventDispatched() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventsDispatched++
}

func (m *Metrics) RecordEventDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventsDropped++
}

// Snapshot returns a point-in-time copy of every counter, keyed the same
// way across calls so callers can diff snapshots or export them directly.
func (m *Metrics) Snapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int64{
		"connection_attempts": m.ConnectionAttempts,
		"connection_failures": m.ConnectionFailures,
		"commands_sent":       m.CommandsSent,
		"commands_completed":  m.CommandsCompleted,
		"commands_timed_out":  m.CommandsTimedOut,
		"events_dispatched":   m.EventsDispatched,
		"events_dropped":      m.EventsDropped,
	}
}
