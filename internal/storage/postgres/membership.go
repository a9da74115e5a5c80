package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumiclass/chat-backend/internal/types"
)

// MembershipRepository handles database operations for room memberships.
type MembershipRepository struct {
	pool *pgxpool.Pool
}

// NewMembershipRepository creates a new MembershipRepository.
func NewMembershipRepository(pool *pgxpool.Pool) *MembershipRepository {
	return &MembershipRepository{pool: pool}
}

// Ensure upserts a membership. Inserting an existing (room, user) pair
// is a no-op: a duplicate-key race resolves to "already a member", never
// an error.
func (r *MembershipRepository) Ensure(ctx context.Context, roomID uuid.UUID, userID string, role types.MemberRole, userType string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chat_memberships (room_id, user_id, role, user_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, user_id) DO NOTHING`,
		uuidToPgtype(roomID), userID, role, userType)
	if err != nil {
		return fmt.Errorf("ensure membership: %w", err)
	}
	return nil
}

// IsMember reports whether the user belongs to the room.
func (r *MembershipRepository) IsMember(ctx context.Context, roomID uuid.UUID, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_memberships WHERE room_id = $1 AND user_id = $2)`,
		uuidToPgtype(roomID), userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// ListByRoom returns the room's memberships.
func (r *MembershipRepository) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]types.Membership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT room_id, user_id, role, user_type, created_at
		FROM chat_memberships WHERE room_id = $1
		ORDER BY created_at`, uuidToPgtype(roomID))
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var members []types.Membership
	for rows.Next() {
		var (
			m         types.Membership
			rid       pgtype.UUID
			createdAt pgtype.Timestamptz
		)
		if err := rows.Scan(&rid, &m.UserID, &m.Role, &m.UserType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.RoomID = pgtypeToUUID(rid)
		m.CreatedAt = pgtimestamptzToTime(createdAt)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return members, nil
}
