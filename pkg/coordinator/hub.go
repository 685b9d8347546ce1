package coordinator

import (
	"sync"

	"github.com/mnohosten/bridgepay/pkg/wire"
)

// Hub fans terminal transfer outcomes out to subscribers (the
// websocket event feed). Slow subscribers drop events rather than
// blocking the transfer path.
type Hub struct {
	mu   sync.Mutex
	subs map[chan wire.TransferEvent]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan wire.TransferEvent]struct{})}
}

// Subscribe registers a new subscriber channel.
func (h *Hub) Subscribe() chan wire.TransferEvent {
	ch := make(chan wire.TransferEvent, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(ch chan wire.TransferEvent) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish delivers an event to every subscriber without blocking.
func (h *Hub) Publish(ev wire.TransferEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop.
		}
	}
}
