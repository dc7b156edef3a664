package events

import "sync"

// Memory is an Emitter that retains every emitted event in order. The node
// uses it to serve event history over RPC; tests use it to assert emission.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory returns an empty in-memory emitter.
func NewMemory() *Memory {
	return &Memory{}
}

// Emit implements the Emitter interface.
func (m *Memory) Emit(evt Event) {
	if evt == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

// Events returns a snapshot of everything emitted so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Mark returns the current history length. Pairing it with Rollback lets a
// caller discard emissions from an operation whose state was reverted.
func (m *Memory) Mark() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Rollback discards every event emitted after the given mark.
func (m *Memory) Rollback(mark int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mark < 0 || mark > len(m.events) {
		return
	}
	m.events = m.events[:mark]
}

// Reset discards all retained events.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}
