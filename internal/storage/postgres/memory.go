package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumiclass/chat-backend/internal/types"
)

// MemoryRepository handles room-scoped ephemeral memory items.
type MemoryRepository struct {
	pool *pgxpool.Pool
}

// NewMemoryRepository creates a new MemoryRepository.
func NewMemoryRepository(pool *pgxpool.Pool) *MemoryRepository {
	return &MemoryRepository{pool: pool}
}

// Add stores a memory item for a room.
func (r *MemoryRepository) Add(ctx context.Context, roomID uuid.UUID, content string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO room_memory_items (room_id, content) VALUES ($1, $2)`,
		uuidToPgtype(roomID), content)
	if err != nil {
		return fmt.Errorf("add memory item: %w", err)
	}
	return nil
}

// ListByRoom returns a room's memory items, oldest first.
func (r *MemoryRepository) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]types.MemoryItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, room_id, content, created_at FROM room_memory_items
		WHERE room_id = $1 ORDER BY id`, uuidToPgtype(roomID))
	if err != nil {
		return nil, fmt.Errorf("list memory items: %w", err)
	}
	defer rows.Close()

	var items []types.MemoryItem
	for rows.Next() {
		var (
			item      types.MemoryItem
			rid       pgtype.UUID
			createdAt pgtype.Timestamptz
		)
		if err := rows.Scan(&item.ID, &rid, &item.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory item: %w", err)
		}
		item.RoomID = pgtypeToUUID(rid)
		item.CreatedAt = pgtimestamptzToTime(createdAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory items: %w", err)
	}
	return items, nil
}

// DeleteByRoom removes all memory items for a room.
func (r *MemoryRepository) DeleteByRoom(ctx context.Context, roomID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM room_memory_items WHERE room_id = $1`, uuidToPgtype(roomID))
	if err != nil {
		return fmt.Errorf("delete memory items: %w", err)
	}
	return nil
}
