package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
)

// Hub is an in-process broadcast sink. Slow subscribers lose events instead
// of blocking the sender.
type Hub struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan models.Event
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan models.Event)}
}

func (h *Hub) Name() string {
	return "hub"
}

func (h *Hub) Send(_ context.Context, event models.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe returns a channel of future events and a func that ends the
// subscription and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan models.Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan models.Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
