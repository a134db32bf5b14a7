package trace

import (
	"fmt"
	"sync"
	"time"
)

// Memory is an in-memory Sink for unit tests.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	closed  bool
}

var _ Sink = (*Memory)(nil)

// NewMemory creates an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Write(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("trace closed")
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.Fields = copyFields(e.Fields)
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Entries returns a copy of all recorded entries.
func (m *Memory) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.entries...)
}

// Stages returns the stage of every entry for the given attempt, in order.
// An empty attempt matches all entries.
func (m *Memory) Stages(attempt string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stages []string
	for _, e := range m.entries {
		if attempt == "" || e.Attempt == attempt {
			stages = append(stages, e.Stage)
		}
	}
	return stages
}
