// Package rooms implements the room and membership registry: room
// lifecycle, idempotent membership upserts, role instance bindings and
// the read-merge-write-verify settings contract.
package rooms

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lumiclass/chat-backend/internal/realtime"
	"github.com/lumiclass/chat-backend/internal/types"
)

// RoomStore is the persistence surface for rooms and role instances.
type RoomStore interface {
	Create(ctx context.Context, ownerID, title, description string) (*types.Room, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.Room, error)
	GetSettings(ctx context.Context, id uuid.UUID) (map[string]any, error)
	UpdateSettings(ctx context.Context, id uuid.UUID, settings map[string]any) error
	AddRoleInstance(ctx context.Context, roomID uuid.UUID, name, model string) (*types.RoleInstance, error)
	ListRoleInstances(ctx context.Context, roomID uuid.UUID) ([]types.RoleInstance, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// MembershipStore is the persistence surface for memberships.
type MembershipStore interface {
	Ensure(ctx context.Context, roomID uuid.UUID, userID string, role types.MemberRole, userType string) error
	IsMember(ctx context.Context, roomID uuid.UUID, userID string) (bool, error)
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]types.Membership, error)
}

// MemoryStore holds ephemeral room-scoped state. It is a non-critical
// dependent of room deletion.
type MemoryStore interface {
	DeleteByRoom(ctx context.Context, roomID uuid.UUID) error
}

// SettingsCache caches room settings for read paths. Writes always go to
// the store and the cache entry is invalidated afterwards.
type SettingsCache interface {
	GetSettings(ctx context.Context, roomID string) (map[string]any, error)
	SetSettings(ctx context.Context, roomID string, settings map[string]any) error
	InvalidateSettings(ctx context.Context, roomID string) error
}

// Service implements the room and membership registry.
type Service struct {
	rooms   RoomStore
	members MembershipStore
	memory  MemoryStore
	cache   SettingsCache
	hub     realtime.Publisher
	logger  *logrus.Logger
}

// NewService creates a rooms Service.
func NewService(rooms RoomStore, members MembershipStore, memory MemoryStore, cache SettingsCache, hub realtime.Publisher, logger *logrus.Logger) *Service {
	return &Service{
		rooms:   rooms,
		members: members,
		memory:  memory,
		cache:   cache,
		hub:     hub,
		logger:  logger,
	}
}

// Create creates a room with an implicit owner membership.
func (s *Service) Create(ctx context.Context, ownerID, title, description string) (*types.Room, error) {
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	room, err := s.rooms.Create(ctx, ownerID, title, description)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"room_id":  room.ID,
		"owner_id": ownerID,
	}).Info("room created")
	return room, nil
}

// Get returns a room by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*types.Room, error) {
	return s.rooms.GetByID(ctx, id)
}

// EnsureMembership idempotently adds a user to a room. Calling it for an
// existing member, or racing another insert for the same pair, succeeds
// without mutation.
func (s *Service) EnsureMembership(ctx context.Context, roomID uuid.UUID, userID string, role types.MemberRole, userType string) error {
	if role == "" {
		role = types.MemberRoleMember
	}
	return s.members.Ensure(ctx, roomID, userID, role, userType)
}

// IsMember reports whether the user belongs to the room.
func (s *Service) IsMember(ctx context.Context, roomID uuid.UUID, userID string) (bool, error) {
	return s.members.IsMember(ctx, roomID, userID)
}

// ListMembers returns the room's memberships.
func (s *Service) ListMembers(ctx context.Context, roomID uuid.UUID) ([]types.Membership, error) {
	return s.members.ListByRoom(ctx, roomID)
}

// AddRoleInstance binds a new AI persona to the room.
func (s *Service) AddRoleInstance(ctx context.Context, roomID uuid.UUID, name, model string) (*types.RoleInstance, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return nil, err
	}
	return s.rooms.AddRoleInstance(ctx, roomID, name, model)
}

// ListRoleInstances returns the room's role instances.
func (s *Service) ListRoleInstances(ctx context.Context, roomID uuid.UUID) ([]types.RoleInstance, error) {
	return s.rooms.ListRoleInstances(ctx, roomID)
}

// UpdateSettings merges partial into the room's settings and returns the
// settings actually persisted. The sequence is read, merge, write, read
// back: the verification read comes from the store, not the cache, so a
// stale cache can never fake a successful write. Per-key last-write-wins
// keeps concurrent updates of different keys from clobbering each other.
func (s *Service) UpdateSettings(ctx context.Context, roomID uuid.UUID, partial map[string]any) (map[string]any, error) {
	current, err := s.rooms.GetSettings(ctx, roomID)
	if err != nil {
		return nil, err
	}

	merged := mergeSettings(current, partial)
	if err := s.rooms.UpdateSettings(ctx, roomID, merged); err != nil {
		return nil, err
	}

	persisted, err := s.rooms.GetSettings(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("verify settings write: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateSettings(ctx, roomID.String()); err != nil {
			s.logger.WithError(err).WithField("room_id", roomID).Warn("failed to invalidate settings cache")
		}
	}

	s.hub.Publish(roomID, realtime.Event{
		Type:     realtime.EventSettingsUpdated,
		RoomID:   roomID,
		Settings: persisted,
	})

	return persisted, nil
}

// CachedSettings returns the room settings, preferring the cache and
// falling back to the store on a miss.
func (s *Service) CachedSettings(ctx context.Context, roomID uuid.UUID) (map[string]any, error) {
	if s.cache != nil {
		cached, err := s.cache.GetSettings(ctx, roomID.String())
		if err != nil {
			s.logger.WithError(err).WithField("room_id", roomID).Warn("settings cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	settings, err := s.rooms.GetSettings(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetSettings(ctx, roomID.String(), settings); err != nil {
			s.logger.WithError(err).WithField("room_id", roomID).Warn("settings cache write failed")
		}
	}
	return settings, nil
}

// Delete cascades a room away. Ephemeral memory items are removed first;
// a failure there is logged and deletion continues. The room-row delete
// (with its owned role instances, messages and memberships) is the
// authoritative step and its failure is the caller's error. The food
// ledger is immutable history and survives.
func (s *Service) Delete(ctx context.Context, roomID uuid.UUID) error {
	if err := s.memory.DeleteByRoom(ctx, roomID); err != nil {
		s.logger.WithError(err).WithField("room_id", roomID).Warn("failed to delete room memory items, continuing")
	}

	if err := s.rooms.Delete(ctx, roomID); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateSettings(ctx, roomID.String()); err != nil {
			s.logger.WithError(err).WithField("room_id", roomID).Warn("failed to invalidate settings cache")
		}
	}

	s.hub.Publish(roomID, realtime.Event{
		Type:   realtime.EventRoomDeleted,
		RoomID: roomID,
	})

	s.logger.WithField("room_id", roomID).Info("room deleted")
	return nil
}
