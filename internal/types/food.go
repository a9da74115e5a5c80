package types

import (
	"time"

	"github.com/google/uuid"
)

// FoodTransaction is an append-only ledger row. Rows are never updated
// or deleted after creation; MessageID carries a unique reference to the
// assistant message that caused the debit, making the debit idempotent.
type FoodTransaction struct {
	ID        int64      `json:"id"`
	UserID    string     `json:"user_id"`
	Delta     int64      `json:"delta"`
	Reason    string     `json:"reason,omitempty"`
	MessageID *uuid.UUID `json:"message_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// FoodBalance is the materialized current balance for a user, maintained
// transactionally with the ledger. It may go negative: cost is known
// only after generation completes.
type FoodBalance struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}
