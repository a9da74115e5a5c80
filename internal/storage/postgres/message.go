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

const messageColumns = `id, seq, thread_id, sender_id, role_instance_id, role, message_type,
	content, content_json, status, client_msg_id, error_summary, created_at, updated_at, completed_at`

// MessageRepository handles database operations for messages.
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(row pgx.Row) (*types.Message, error) {
	var (
		msg          types.Message
		id           pgtype.UUID
		threadID     pgtype.UUID
		roleInstance pgtype.UUID
		contentJSON  []byte
		errSummary   pgtype.Text
		createdAt    pgtype.Timestamptz
		updatedAt    pgtype.Timestamptz
		completedAt  pgtype.Timestamptz
	)

	err := row.Scan(&id, &msg.Seq, &threadID, &msg.SenderID, &roleInstance, &msg.Role, &msg.Type,
		&msg.Content, &contentJSON, &msg.Status, &msg.ClientMsgID, &errSummary, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	msg.ID = pgtypeToUUID(id)
	msg.ThreadID = pgtypeToUUID(threadID)
	msg.RoleInstanceID = pgtypeToUUIDPtr(roleInstance)
	msg.ErrorSummary = pgtextToStringPtr(errSummary)
	msg.CreatedAt = pgtimestamptzToTime(createdAt)
	msg.UpdatedAt = pgtimestamptzToTime(updatedAt)
	msg.CompletedAt = pgtimestamptzToTimePtr(completedAt)

	meta, err := metaFromJSON(contentJSON)
	if err != nil {
		return nil, err
	}
	msg.Meta = meta

	return &msg, nil
}

// Create inserts a message in its initial status. The insert is
// idempotent on (thread_id, client_msg_id): when a row with the same key
// already exists the existing row is returned unchanged and created is
// false. Duplicate-insert races collapse the same way via the unique
// constraint.
func (r *MessageRepository) Create(ctx context.Context, msg *types.Message) (*types.Message, bool, error) {
	metaJSON, err := metaToJSON(msg.Meta)
	if err != nil {
		return nil, false, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (thread_id, sender_id, role_instance_id, role, message_type, content, content_json, status, client_msg_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (thread_id, client_msg_id) DO NOTHING
		RETURNING `+messageColumns,
		uuidToPgtype(msg.ThreadID), msg.SenderID, uuidPtrToPgtype(msg.RoleInstanceID), msg.Role,
		msg.Type, msg.Content, metaJSON, msg.Status, msg.ClientMsgID)

	created, err := scanMessage(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("create message: %w", err)
	}

	// Conflict: another insert with the same idempotency key won.
	existing, err := r.GetByClientMsgID(ctx, msg.ThreadID, msg.ClientMsgID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID returns a message by id.
func (r *MessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = $1`, uuidToPgtype(id))
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// GetByClientMsgID returns the message stored under an idempotency key
// within a thread.
func (r *MessageRepository) GetByClientMsgID(ctx context.Context, threadID uuid.UUID, clientMsgID string) (*types.Message, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM chat_messages WHERE thread_id = $1 AND client_msg_id = $2`,
		uuidToPgtype(threadID), clientMsgID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message by client_msg_id: %w", err)
	}
	return msg, nil
}

// MarkProcessing transitions a queued message to processing.
func (r *MessageRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, types.StatusProcessing, `
		UPDATE chat_messages SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status = 'queued'`)
}

// Complete transitions a message to completed, setting its final content
// and structured payload.
func (r *MessageRepository) Complete(ctx context.Context, id uuid.UUID, content string, meta *types.MessageMeta) error {
	metaJSON, err := metaToJSON(meta)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE chat_messages
		SET status = 'completed', content = $2, content_json = $3, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'processing')`,
		uuidToPgtype(id), content, metaJSON)
	if err != nil {
		return fmt.Errorf("complete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionConflict(ctx, id, types.StatusCompleted)
	}
	return nil
}

// Fail transitions a message to failed with an error summary.
func (r *MessageRepository) Fail(ctx context.Context, id uuid.UUID, summary string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE chat_messages SET status = 'failed', error_summary = $2, updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'processing')`,
		uuidToPgtype(id), summary)
	if err != nil {
		return fmt.Errorf("fail message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionConflict(ctx, id, types.StatusFailed)
	}
	return nil
}

// SoftDelete marks a message deleted while retaining its content for
// audit. Deleting an already-deleted message is a no-op returning nil.
func (r *MessageRepository) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE chat_messages SET status = 'deleted', updated_at = now()
		WHERE id = $1 AND status <> 'deleted'`, uuidToPgtype(id))
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Either already deleted (idempotent success) or missing.
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ListByThread returns a thread's messages, most recent first. Ordering
// is by seq so ties in wall-clock creation time stay stable.
func (r *MessageRepository) ListByThread(ctx context.Context, threadID uuid.UUID, limit int) ([]types.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE thread_id = $1
		ORDER BY seq DESC
		LIMIT $2`, uuidToPgtype(threadID), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// OldestQueued returns up to limit user messages awaiting processing,
// oldest first.
func (r *MessageRepository) OldestQueued(ctx context.Context, limit int) ([]types.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE status = 'queued' AND role = 'user'
		ORDER BY seq ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]types.Message, error) {
	var msgs []types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// transition runs a guarded status update and maps a zero-row result to
// ErrNotFound or ErrInvalidTransition based on the row's current state.
func (r *MessageRepository) transition(ctx context.Context, id uuid.UUID, to types.MessageStatus, query string) error {
	tag, err := r.pool.Exec(ctx, query, uuidToPgtype(id))
	if err != nil {
		return fmt.Errorf("transition message to %s: %w", to, err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionConflict(ctx, id, to)
	}
	return nil
}

func (r *MessageRepository) transitionConflict(ctx context.Context, id uuid.UUID, to types.MessageStatus) error {
	msg, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if msg.Status == to {
		// Retried transition, already applied.
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, msg.Status, to)
}
