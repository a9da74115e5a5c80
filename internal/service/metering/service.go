package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/lumiclass/chat-backend/internal/types"
)

// Ledger is the storage surface the pipeline debits against. Debit must
// be idempotent on messageID: a retried debit for the same message
// applies nothing and returns false.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount int64, messageID uuid.UUID, reason string) (bool, error)
	Balance(ctx context.Context, userID string) (int64, error)
	History(ctx context.Context, userID string, limit int) ([]types.FoodTransaction, error)
}

// Service translates completed exchanges into food debits.
type Service struct {
	ledger       Ledger
	charsPerFood int
	logger       *logrus.Logger
}

// NewService creates a metering Service. charsPerFood must be positive.
func NewService(ledger Ledger, charsPerFood int, logger *logrus.Logger) *Service {
	return &Service{
		ledger:       ledger,
		charsPerFood: charsPerFood,
		logger:       logger,
	}
}

// Cost returns the food cost of a single text.
func (s *Service) Cost(text string) int64 {
	return CostOf(text, s.charsPerFood)
}

// Breakdown prices a completed exchange.
func (s *Service) Breakdown(userText, assistantText string) *types.CostBreakdown {
	in := NonWhitespaceChars(userText)
	out := NonWhitespaceChars(assistantText)
	inCost := s.Cost(userText)
	outCost := s.Cost(assistantText)
	return &types.CostBreakdown{
		InputChars:  in,
		OutputChars: out,
		InputCost:   inCost,
		OutputCost:  outCost,
		TotalCost:   inCost + outCost,
	}
}

// Charge debits the user for a completed exchange, at most once per
// assistant message. Transient ledger failures are retried; retries are
// safe because the debit is keyed by the assistant message id. The cost
// may drive the balance negative: it is computed after generation, not
// gated beforehand.
func (s *Service) Charge(ctx context.Context, userID string, assistantMsgID uuid.UUID, cost *types.CostBreakdown) error {
	if cost.TotalCost == 0 {
		return nil
	}

	backoff := retry.WithMaxRetries(4, retry.NewExponential(100*time.Millisecond))
	var applied bool
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		applied, err = s.ledger.Debit(ctx, userID, cost.TotalCost, assistantMsgID, "chat_completion")
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		// Operational alert: the message stays completed, the
		// discrepancy is reconcilable from the ledger and message
		// completion timestamps.
		s.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":    userID,
			"message_id": assistantMsgID,
			"cost":       cost.TotalCost,
		}).Error("food debit failed after retries; reconciliation required")
		return fmt.Errorf("debit food: %w", err)
	}

	if !applied {
		s.logger.WithField("message_id", assistantMsgID).Debug("debit already applied, skipping")
	}
	return nil
}

// Balance returns the user's current food balance.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return s.ledger.Balance(ctx, userID)
}

// History returns the user's ledger entries, most recent first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]types.FoodTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.ledger.History(ctx, userID, limit)
}
