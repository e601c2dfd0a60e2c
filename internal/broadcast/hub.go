// Package broadcast fans events out to multiple subscribers over
// bounded channels. Delivery is best-effort: a subscriber that falls
// behind loses events rather than blocking the publisher, so a slow
// live-transcription reader can never stall the capture path.
package broadcast

import "sync"

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 64

// Hub broadcasts values of type T to any number of subscribers.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	next   int
	buffer int
	closed bool
}

// NewHub creates a hub with the given per-subscriber buffer depth.
// Zero or negative selects DefaultBuffer.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub[T]{subs: make(map[int]chan T), buffer: buffer}
}

// Subscribe returns a receive channel and a cancel function. The
// channel is closed on cancel or when the hub closes.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	ch := make(chan T, h.buffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers v to every subscriber with buffer room and drops it
// for the rest. Never blocks.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers are attached.
func (h *Hub[T]) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Publish after Close is a
// no-op.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
