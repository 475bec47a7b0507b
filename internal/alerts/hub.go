package alerts

import (
	"sync"

	"github.com/mlguard/backend/internal/storage/models"
)

// Hub fans created alerts out to live subscribers (websocket connections).
// Slow subscribers drop messages instead of blocking the pipeline.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan models.Alert]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[chan models.Alert]struct{}{}}
}

func (h *Hub) Subscribe() chan models.Alert {
	ch := make(chan models.Alert, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan models.Alert) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) Publish(alert models.Alert) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- alert:
		default:
		}
	}
}
