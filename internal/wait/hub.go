// Package wait implements the in-process notification hub that wakes
// long-polling receivers when a message is published or becomes visible.
// It is best-effort and not replicated: waiters on other instances rely on
// their own poll deadline.
package wait

import (
	"context"
	"sync"
	"time"
)

// Waiter is a registered long-poll subscription. It carries a one-shot wake
// signal and must be released with Hub.Unsubscribe on every exit path.
type Waiter struct {
	queue    string
	id       uint64
	deadline time.Time
	signal   chan struct{}
}

// Hub is a per-queue broadcast of "a message may be visible now" events.
// All concurrency is a single mutex around the waiter map; the signal
// channels are buffered so notifiers never block.
type Hub struct {
	mu      sync.Mutex
	nextID  uint64
	waiters map[string]map[uint64]*Waiter
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{waiters: make(map[string]map[uint64]*Waiter)}
}

// Subscribe registers a waiter for the queue until deadline.
func (h *Hub) Subscribe(queue string, deadline time.Time) *Waiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	w := &Waiter{
		queue:    queue,
		id:       h.nextID,
		deadline: deadline,
		signal:   make(chan struct{}, 1),
	}
	m, ok := h.waiters[queue]
	if !ok {
		m = make(map[uint64]*Waiter)
		h.waiters[queue] = m
	}
	m[w.id] = w
	return w
}

// Unsubscribe releases the waiter. It is idempotent.
func (h *Hub) Unsubscribe(w *Waiter) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.waiters[w.queue]
	if !ok {
		return
	}
	delete(m, w.id)
	if len(m) == 0 {
		delete(h.waiters, w.queue)
	}
}

// Wait suspends the caller until the waiter is signalled, its deadline
// elapses, or ctx is cancelled. It reports whether a signal arrived.
// Spurious wakes are allowed; callers re-check the store either way.
func (h *Hub) Wait(ctx context.Context, w *Waiter) bool {
	d := time.Until(w.deadline)
	if d <= 0 {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.signal:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Notify wakes the queue's waiters once the message published at visibleAt
// becomes deliverable. Delayed messages schedule a wake for the moment the
// delay elapses instead of waking anyone early.
func (h *Hub) Notify(queue string, visibleAt time.Time) {
	d := time.Until(visibleAt)
	if d <= 0 {
		h.broadcast(queue, visibleAt)
		return
	}
	time.AfterFunc(d, func() {
		h.broadcast(queue, visibleAt)
	})
}

// broadcast signals every waiter still willing to wait until visibleAt.
// Waiters whose deadline passes before the message is visible are left
// alone; their own timer will return them empty-handed.
func (h *Hub) broadcast(queue string, visibleAt time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, w := range h.waiters[queue] {
		if w.deadline.Before(visibleAt) {
			continue
		}
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
}
