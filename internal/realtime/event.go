package realtime

import (
	"github.com/google/uuid"

	"github.com/lumiclass/chat-backend/internal/types"
)

// EventType identifies the kind of room event delivered to subscribers.
type EventType string

const (
	EventSnapshot        EventType = "snapshot"
	EventMessageCreated  EventType = "message.created"
	EventMessageUpdated  EventType = "message.updated"
	EventMessageDeleted  EventType = "message.deleted"
	EventSettingsUpdated EventType = "settings.updated"
	EventRoomDeleted     EventType = "room.deleted"
)

// Event is a single room change fanned out to connected participants.
// Exactly one of Message, Settings or Snapshot is set, depending on
// Type. Delivery is best-effort at-least-once, ordered per room.
type Event struct {
	Type     EventType      `json:"type"`
	RoomID   uuid.UUID      `json:"room_id"`
	Message  *types.Message `json:"message,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
	Snapshot *Snapshot      `json:"snapshot,omitempty"`
}

// Snapshot is the consistent view a newly-connecting participant
// receives before live events: recent history (most recent first) plus
// the room's current settings.
type Snapshot struct {
	Room     *types.Room     `json:"room"`
	Messages []types.Message `json:"messages"`
}

// Publisher is implemented by the hub and consumed by the services that
// mutate rooms and messages.
type Publisher interface {
	Publish(roomID uuid.UUID, ev Event)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(uuid.UUID, Event) {}
