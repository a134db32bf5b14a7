package trace

import (
	"context"
	"sync"
)

// Hub fans entries out to live subscribers and keeps the most recent ones
// for late joiners (the status page and websocket stream).
type Hub struct {
	mu     sync.Mutex
	recent []Entry
	limit  int
	subs   map[chan Entry]struct{}
}

var _ Sink = (*Hub)(nil)

// NewHub creates a Hub that remembers up to limit entries.
func NewHub(limit int) *Hub {
	if limit <= 0 {
		limit = 100
	}
	return &Hub{limit: limit, subs: make(map[chan Entry]struct{})}
}

// Write records e and delivers it to subscribers. Slow subscribers miss
// entries rather than block the launch.
func (h *Hub) Write(e Entry) error {
	e.Fields = copyFields(e.Fields)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent = append(h.recent, e)
	if len(h.recent) > h.limit {
		h.recent = h.recent[len(h.recent)-h.limit:]
	}
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

// Close drops all subscribers.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
	return nil
}

// Recent returns the remembered entries, oldest first.
func (h *Hub) Recent() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Entry(nil), h.recent...)
}

// Subscribe returns a channel of entries written after the call. The
// channel is closed when ctx is done or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context) <-chan Entry {
	ch := make(chan Entry, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}()
	return ch
}
