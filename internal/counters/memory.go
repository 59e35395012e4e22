package counters

import (
	"context"
	"sync"
)

// Memory is an in-process counters implementation for tests and one-shot
// CLI invocations that have no database.
type Memory struct {
	mu        sync.Mutex
	threshold int
	sent      map[int64]int64
	bounces   map[int64]int64
}

// NewMemory returns a Memory with the given bounce threshold.
func NewMemory(threshold int) *Memory {
	return &Memory{
		threshold: threshold,
		sent:      make(map[int64]int64),
		bounces:   make(map[int64]int64),
	}
}

// IncrementSendCount records one successful delivery.
func (m *Memory) IncrementSendCount(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[userID]++
	return nil
}

// SendCount returns the recorded delivery count.
func (m *Memory) SendCount(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[userID], nil
}

// RecordBounce records one delivery failure.
func (m *Memory) RecordBounce(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounces[userID]++
	return nil
}

// ResetBounces clears the bounce counter.
func (m *Memory) ResetBounces(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bounces, userID)
	return nil
}

// OverBounceThreshold reports whether the recipient crossed the threshold.
func (m *Memory) OverBounceThreshold(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold > 0 && m.bounces[userID] >= int64(m.threshold), nil
}
