package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const subscriptionBuffer = 256

// Hub fans room events out to subscribed participants. Events for a
// room are delivered to every subscriber in publish order; ordering
// across rooms is not guaranteed. A subscriber that falls behind its
// buffer is dropped rather than allowed to stall the room — clients
// reconnect and re-snapshot.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]map[*Subscription]struct{}
	logger *logrus.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		rooms:  make(map[uuid.UUID]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscription is one participant's live feed for a room. Events arrive
// on C; Done is closed when the hub drops the subscription.
type Subscription struct {
	C    chan Event
	Done chan struct{}

	roomID   uuid.UUID
	hub      *Hub
	doneOnce sync.Once
}

// Subscribe registers a new subscriber for a room. Subscribe before
// loading the snapshot: events published during the snapshot read queue
// in the buffer, so the handshake has no gap (duplicates are acceptable
// under the at-least-once contract).
func (h *Hub) Subscribe(roomID uuid.UUID) *Subscription {
	sub := &Subscription{
		C:      make(chan Event, subscriptionBuffer),
		Done:   make(chan struct{}),
		roomID: roomID,
		hub:    h,
	}

	h.mu.Lock()
	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.rooms[roomID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Publish delivers an event to every subscriber of the room, in call
// order. Callers publish after their storage write commits.
func (h *Hub) Publish(roomID uuid.UUID, ev Event) {
	h.mu.RLock()
	var slow []*Subscription
	for sub := range h.rooms[roomID] {
		select {
		case sub.C <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.WithField("room_id", roomID).Warn("dropping slow realtime subscriber")
		sub.Close()
	}
}

// Subscribers returns the current subscriber count for a room.
func (h *Hub) Subscribers(roomID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Close removes the subscription from the hub and signals Done. Safe to
// call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	if subs, ok := s.hub.rooms[s.roomID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.hub.rooms, s.roomID)
		}
	}
	s.hub.mu.Unlock()

	s.doneOnce.Do(func() { close(s.Done) })
}
