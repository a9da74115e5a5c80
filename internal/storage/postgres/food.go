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

// FoodRepository handles the food transaction ledger and the
// materialized per-user balance.
type FoodRepository struct {
	pool *pgxpool.Pool
}

// NewFoodRepository creates a new FoodRepository.
func NewFoodRepository(pool *pgxpool.Pool) *FoodRepository {
	return &FoodRepository{pool: pool}
}

// Debit appends a ledger row and updates the user's balance in one
// transaction. The ledger insert carries a unique reference to the
// assistant message id, so a retried debit for the same message inserts
// nothing and leaves the balance untouched; the return value reports
// whether this call applied the debit. Per-user serialization comes from
// the balance row lock inside the transaction; debits for different
// users proceed in parallel.
func (r *FoodRepository) Debit(ctx context.Context, userID string, amount int64, messageID uuid.UUID, reason string) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("debit amount must be non-negative, got %d", amount)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin debit: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO food_transactions (user_id, delta, reason, message_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id) DO NOTHING`,
		userID, -amount, reason, uuidToPgtype(messageID))
	if err != nil {
		return false, fmt.Errorf("insert food transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already debited for this message.
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO user_food_balances (user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = user_food_balances.balance + EXCLUDED.balance, updated_at = now()`,
		userID, -amount)
	if err != nil {
		return false, fmt.Errorf("update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit debit: %w", err)
	}
	return true, nil
}

// Balance returns the user's current balance. Users with no ledger
// history have a zero balance.
func (r *FoodRepository) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM user_food_balances WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// History returns the user's ledger entries, most recent first.
func (r *FoodRepository) History(ctx context.Context, userID string, limit int) ([]types.FoodTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, delta, reason, message_id, created_at
		FROM food_transactions
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list food transactions: %w", err)
	}
	defer rows.Close()

	var txs []types.FoodTransaction
	for rows.Next() {
		var (
			t         types.FoodTransaction
			msgID     pgtype.UUID
			createdAt pgtype.Timestamptz
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Delta, &t.Reason, &msgID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan food transaction: %w", err)
		}
		t.MessageID = pgtypeToUUIDPtr(msgID)
		t.CreatedAt = pgtimestamptzToTime(createdAt)
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate food transactions: %w", err)
	}
	return txs, nil
}
