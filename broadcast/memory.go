package broadcast

import (
	"context"
	"sync"

	"github.com/kitokato77/cnc4-gs2/logger"
)

// MemoryHub is an in-process Broadcaster.
type MemoryHub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]chan Event // roomID -> id -> queue
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[string]map[uint64]chan Event)}
}

func (h *MemoryHub) Publish(ctx context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs[ev.RoomID] {
		select {
		case ch <- ev:
		default:
			logger.Log.Warnf("Dropping %s event for subscriber %d of room %s: queue full", ev.Type, id, ev.RoomID)
		}
	}
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan Event, subscriberBuffer)
	if h.subs[roomID] == nil {
		h.subs[roomID] = make(map[uint64]chan Event)
	}
	h.subs[roomID][id] = ch
	return &memorySubscription{hub: h, roomID: roomID, id: id, ch: ch}, nil
}

func (h *MemoryHub) remove(roomID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subs[roomID][id]
	if !ok {
		return
	}
	delete(h.subs[roomID], id)
	if len(h.subs[roomID]) == 0 {
		delete(h.subs, roomID)
	}
	close(ch)
}

type memorySubscription struct {
	hub    *MemoryHub
	roomID string
	id     uint64
	ch     chan Event
	once   sync.Once
}

func (s *memorySubscription) Events() <-chan Event { return s.ch }

func (s *memorySubscription) Close() error {
	s.once.Do(func() { s.hub.remove(s.roomID, s.id) })
	return nil
}
