package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumiclass/chat-backend/internal/types"
)

// RoomRepository handles database operations for rooms and their role
// instances.
type RoomRepository struct {
	pool *pgxpool.Pool
}

// NewRoomRepository creates a new RoomRepository.
func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

func scanRoom(row pgx.Row) (*types.Room, error) {
	var (
		room      types.Room
		id        pgtype.UUID
		settings  []byte
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)

	if err := row.Scan(&id, &room.OwnerID, &room.Title, &room.Description, &settings, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	room.ID = pgtypeToUUID(id)
	room.CreatedAt = pgtimestamptzToTime(createdAt)
	room.UpdatedAt = pgtimestamptzToTime(updatedAt)

	parsed, err := settingsFromJSON(settings)
	if err != nil {
		return nil, err
	}
	room.Settings = parsed

	return &room, nil
}

// Create inserts a room together with its implicit owner membership.
func (r *RoomRepository) Create(ctx context.Context, ownerID, title, description string) (*types.Room, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create room: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO chat_rooms (owner_id, title, description)
		VALUES ($1, $2, $3)
		RETURNING id, owner_id, title, description, settings, created_at, updated_at`,
		ownerID, title, description)

	room, err := scanRoom(row)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_memberships (room_id, user_id, role)
		VALUES ($1, $2, 'owner')
		ON CONFLICT (room_id, user_id) DO NOTHING`,
		uuidToPgtype(room.ID), ownerID)
	if err != nil {
		return nil, fmt.Errorf("create owner membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create room: %w", err)
	}
	return room, nil
}

// GetByID returns a room by id.
func (r *RoomRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.Room, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, description, settings, created_at, updated_at
		FROM chat_rooms WHERE id = $1`, uuidToPgtype(id))

	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

// GetSettings returns the room's current settings map.
func (r *RoomRepository) GetSettings(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT settings FROM chat_rooms WHERE id = $1`, uuidToPgtype(id)).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return settingsFromJSON(raw)
}

// UpdateSettings replaces the room's settings map.
func (r *RoomRepository) UpdateSettings(ctx context.Context, id uuid.UUID, settings map[string]any) error {
	raw, err := settingsToJSON(settings)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE chat_rooms SET settings = $2, updated_at = now() WHERE id = $1`,
		uuidToPgtype(id), raw)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddRoleInstance creates a role instance and binds it to the room.
func (r *RoomRepository) AddRoleInstance(ctx context.Context, roomID uuid.UUID, name, model string) (*types.RoleInstance, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin add role instance: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	err = tx.QueryRow(ctx, `
		INSERT INTO chat_role_instances (name, model) VALUES ($1, $2)
		RETURNING id, created_at`, name, model).Scan(&id, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("create role instance: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_role_instance_rooms (role_instance_id, room_id) VALUES ($1, $2)`,
		id, uuidToPgtype(roomID))
	if err != nil {
		return nil, fmt.Errorf("bind role instance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit add role instance: %w", err)
	}

	return &types.RoleInstance{
		ID:        pgtypeToUUID(id),
		RoomID:    roomID,
		Name:      name,
		Model:     model,
		CreatedAt: pgtimestamptzToTime(createdAt),
	}, nil
}

// ListRoleInstances returns the role instances bound to a room.
func (r *RoomRepository) ListRoleInstances(ctx context.Context, roomID uuid.UUID) ([]types.RoleInstance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ri.id, rir.room_id, ri.name, ri.model, ri.created_at
		FROM chat_role_instances ri
		JOIN chat_role_instance_rooms rir ON rir.role_instance_id = ri.id
		WHERE rir.room_id = $1
		ORDER BY ri.created_at`, uuidToPgtype(roomID))
	if err != nil {
		return nil, fmt.Errorf("list role instances: %w", err)
	}
	defer rows.Close()

	var instances []types.RoleInstance
	for rows.Next() {
		var (
			ri        types.RoleInstance
			id        pgtype.UUID
			rid       pgtype.UUID
			createdAt pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &rid, &ri.Name, &ri.Model, &createdAt); err != nil {
			return nil, fmt.Errorf("scan role instance: %w", err)
		}
		ri.ID = pgtypeToUUID(id)
		ri.RoomID = pgtypeToUUID(rid)
		ri.CreatedAt = pgtimestamptzToTime(createdAt)
		instances = append(instances, ri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role instances: %w", err)
	}
	return instances, nil
}

// Delete removes a room and its owned dependents in one transaction:
// role bindings, role instances, messages, memberships, then the room
// row itself. Food transactions are immutable history and are never
// touched.
func (r *RoomRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete room: %w", err)
	}
	defer tx.Rollback(ctx)

	roomID := uuidToPgtype(id)

	rows, err := tx.Query(ctx, `
		DELETE FROM chat_role_instance_rooms WHERE room_id = $1 RETURNING role_instance_id`, roomID)
	if err != nil {
		return fmt.Errorf("delete role bindings: %w", err)
	}
	var instanceIDs []pgtype.UUID
	for rows.Next() {
		var iid pgtype.UUID
		if err := rows.Scan(&iid); err != nil {
			rows.Close()
			return fmt.Errorf("scan role binding: %w", err)
		}
		instanceIDs = append(instanceIDs, iid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate role bindings: %w", err)
	}

	if len(instanceIDs) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM chat_role_instances WHERE id = ANY($1)`, instanceIDs); err != nil {
			return fmt.Errorf("delete role instances: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chat_messages WHERE thread_id = $1`, roomID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chat_memberships WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("delete memberships: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM chat_rooms WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete room: %w", err)
	}
	return nil
}
