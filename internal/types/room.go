package types

import (
	"time"

	"github.com/google/uuid"
)

// MemberRole represents a user's role within a room.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleMember MemberRole = "member"
)

// Room is a conversation container holding messages, members and role
// instances. Settings is an open key-value map (model selection etc.);
// nothing in the core branches on its contents.
type Room struct {
	ID          uuid.UUID      `json:"id"`
	OwnerID     string         `json:"owner_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Settings    map[string]any `json:"settings"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Membership relates a user to a room. A (room, user) pair appears at
// most once.
type Membership struct {
	RoomID    uuid.UUID  `json:"room_id"`
	UserID    string     `json:"user_id"`
	Role      MemberRole `json:"role"`
	UserType  string     `json:"user_type,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// RoleInstance is a named AI persona bound to exactly one room.
type RoleInstance struct {
	ID        uuid.UUID `json:"id"`
	RoomID    uuid.UUID `json:"room_id"`
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryItem is ephemeral room-scoped state. It is a non-critical
// dependent of the room delete cascade: a failure to remove memory
// items never blocks room deletion.
type MemoryItem struct {
	ID        int64     `json:"id"`
	RoomID    uuid.UUID `json:"room_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
