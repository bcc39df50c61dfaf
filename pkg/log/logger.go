package log

import "sync"

// Logger is the interface applications implement to receive protocol log events.
// Pass nil or NoopLogger to disable logging.
type Logger interface {
	// Log records a protocol event. Implementations must be thread-safe.
	// Log is called on transport goroutines; blocking delays the stream.
	Log(event Event)
}

// NoopLogger discards all events. Use when logging is disabled.
// NoopLogger is safe for concurrent use and usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// MemoryLogger keeps events in memory.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

// Log appends the event.
func (m *MemoryLogger) Log(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a copy of the recorded events.
func (m *MemoryLogger) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Matching returns the recorded events that match f.
func (m *MemoryLogger) Matching(f Filter) []Event {
	var out []Event
	for _, ev := range m.Events() {
		if f.matches(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Compile-time interface satisfaction checks.
var (
	_ Logger = NoopLogger{}
	_ Logger = (*MemoryLogger)(nil)
)
