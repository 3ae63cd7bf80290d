// Package hub implements the subtitle broadcast fan-out.
//
// The hub maintains the live subscriber set and delivers each published
// event to every subscriber on a best-effort, at-most-once basis. Delivery
// failures are isolated per subscriber: a broken connection is marked for
// removal without aborting delivery to the rest, and removals are applied
// after the sweep. A disconnected subscriber simply misses subsequent
// events.
//
// The subscriber set is the one structure in the pipeline shared across
// arbitrary goroutines (publish vs. connect/disconnect), so all access is
// mutex-guarded. Publish iterates a snapshot taken under the read lock;
// Subscribe and Unsubscribe are safe to call concurrently with Publish.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lobacast/loba/internal/event"
)

// Subscriber is a single delivery target, typically a WebSocket client.
// Deliver must be safe for concurrent use with itself and must respect the
// context deadline; a non-nil error marks the subscriber dead.
type Subscriber interface {
	// ID uniquely identifies the subscriber within the hub.
	ID() string

	// Deliver pushes one encoded event to the subscriber.
	Deliver(ctx context.Context, payload []byte) error
}

// Hub is the broadcast fan-out. Create with New.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]Subscriber

	// onCountChange, when set, is called with the new subscriber count after
	// every add or remove. Used to drive the active-subscribers gauge.
	onCountChange func(int)
}

// Option is a functional option for New.
type Option func(*Hub)

// WithCountCallback registers a callback invoked with the subscriber count
// after every membership change. The callback runs under the hub lock and
// must not call back into the hub.
func WithCountCallback(fn func(int)) Option {
	return func(h *Hub) { h.onCountChange = fn }
}

// New creates an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{subs: make(map[string]Subscriber)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe adds a subscriber. A subscriber with a duplicate ID replaces the
// previous one.
func (h *Hub) Subscribe(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub.ID()] = sub
	h.countChangedLocked()
	slog.Debug("subscriber joined", "id", sub.ID(), "total", len(h.subs))
}

// Unsubscribe removes a subscriber by ID. Unknown IDs are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; !ok {
		return
	}
	delete(h.subs, id)
	h.countChangedLocked()
	slog.Debug("subscriber left", "id", id, "total", len(h.subs))
}

// Count returns the current subscriber count.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish serializes ev once and delivers it to a snapshot of the current
// subscribers. Subscribers whose delivery fails are removed after the sweep.
// Returns the number of successful deliveries.
func (h *Hub) Publish(ctx context.Context, ev event.Event) int {
	payload, err := ev.Encode()
	if err != nil {
		// Event construction is under our control; this indicates a bug.
		slog.Error("hub: event encode failed", "type", ev.Type, "err", err)
		return 0
	}

	h.mu.RLock()
	snapshot := make([]Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	var failed []string
	delivered := 0
	for _, sub := range snapshot {
		if err := sub.Deliver(ctx, payload); err != nil {
			slog.Warn("hub: delivery failed, dropping subscriber",
				"id", sub.ID(), "type", ev.Type, "err", err)
			failed = append(failed, sub.ID())
			continue
		}
		delivered++
	}

	for _, id := range failed {
		h.Unsubscribe(id)
	}
	return delivered
}

// countChangedLocked fires the membership callback. Caller holds h.mu.
func (h *Hub) countChangedLocked() {
	if h.onCountChange != nil {
		h.onCountChange(len(h.subs))
	}
}
