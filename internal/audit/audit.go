// Package audit defines the event sink send failures are reported to.
package audit

import (
	"log/slog"
	"sync"
)

// Sink receives structured pipeline events.
type Sink interface {
	Emit(event string, payload map[string]string)
}

// Log writes events to a slog logger.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a slog-backed sink. A nil logger uses slog.Default.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Emit records the event at warn level with the payload as attributes.
func (s *Log) Emit(event string, payload map[string]string) {
	attrs := make([]any, 0, len(payload)+1)
	attrs = append(attrs, slog.String("event", event))
	for k, v := range payload {
		attrs = append(attrs, slog.String(k, v))
	}
	s.logger.Warn("audit event", attrs...)
}

// Event is a captured sink emission.
type Event struct {
	Name    string
	Payload map[string]string
}

// Memory collects events in order; used by tests and the check command.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends the event.
func (m *Memory) Emit(event string, payload map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Name: event, Payload: payload})
}

// Events returns a copy of everything emitted so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
