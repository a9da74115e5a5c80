// Package messages implements the message store and state machine:
// idempotent ingestion keyed by client_msg_id, the
// queued/processing/completed/failed/deleted lifecycle, soft deletion,
// and the completion path that triggers metering.
package messages

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lumiclass/chat-backend/internal/realtime"
	"github.com/lumiclass/chat-backend/internal/types"
)

// ErrNotMember is returned when the submitting user does not belong to
// the target room.
var ErrNotMember = errors.New("user is not a member of the room")

// MessageStore is the persistence surface for messages.
type MessageStore interface {
	Create(ctx context.Context, msg *types.Message) (*types.Message, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.Message, error)
	GetByClientMsgID(ctx context.Context, threadID uuid.UUID, clientMsgID string) (*types.Message, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, content string, meta *types.MessageMeta) error
	Fail(ctx context.Context, id uuid.UUID, summary string) error
	SoftDelete(ctx context.Context, id uuid.UUID) (bool, error)
	ListByThread(ctx context.Context, threadID uuid.UUID, limit int) ([]types.Message, error)
}

// MembershipChecker verifies room membership before accepting messages.
type MembershipChecker interface {
	IsMember(ctx context.Context, roomID uuid.UUID, userID string) (bool, error)
}

// Meter prices completed exchanges and applies the debit.
type Meter interface {
	Breakdown(userText, assistantText string) *types.CostBreakdown
	Charge(ctx context.Context, userID string, assistantMsgID uuid.UUID, cost *types.CostBreakdown) error
}

// Service implements message ingestion and lifecycle.
type Service struct {
	store   MessageStore
	members MembershipChecker
	meter   Meter
	hub     realtime.Publisher
	logger  *logrus.Logger
}

// NewService creates a messages Service.
func NewService(store MessageStore, members MembershipChecker, meter Meter, hub realtime.Publisher, logger *logrus.Logger) *Service {
	return &Service{
		store:   store,
		members: members,
		meter:   meter,
		hub:     hub,
		logger:  logger,
	}
}

// SubmitInput carries a user-originated message.
type SubmitInput struct {
	ThreadID       uuid.UUID
	UserID         string
	Content        string
	ClientMsgID    string
	RoleInstanceID *uuid.UUID
}

// Submit creates a queued user message. Submission is idempotent on
// (thread, client_msg_id): a retried submit returns the originally
// stored message with the same id, and exactly one row exists.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*types.Message, error) {
	if in.ThreadID == uuid.Nil {
		return nil, fmt.Errorf("thread id is required")
	}
	if in.Content == "" {
		return nil, fmt.Errorf("content is required")
	}
	if in.ClientMsgID == "" {
		return nil, fmt.Errorf("client_msg_id is required")
	}

	member, err := s.members.IsMember(ctx, in.ThreadID, in.UserID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotMember
	}

	msg, created, err := s.store.Create(ctx, &types.Message{
		ThreadID:       in.ThreadID,
		SenderID:       in.UserID,
		RoleInstanceID: in.RoleInstanceID,
		Role:           types.RoleUser,
		Type:           types.TypeUserRequest,
		Content:        in.Content,
		Status:         types.StatusQueued,
		ClientMsgID:    in.ClientMsgID,
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.hub.Publish(msg.ThreadID, realtime.Event{
			Type:    realtime.EventMessageCreated,
			RoomID:  msg.ThreadID,
			Message: msg,
		})
	}
	return msg, nil
}

// MarkProcessing records that a completion worker has claimed the
// message.
func (s *Service) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	if err := s.store.MarkProcessing(ctx, id); err != nil {
		return err
	}
	s.publishUpdated(ctx, id)
	return nil
}

// CompleteInput carries the result of an external completion.
type CompleteInput struct {
	ThreadID           uuid.UUID
	UserClientMsgID    string
	RoleInstanceID     uuid.UUID
	ProviderResponseID string
	Content            string
	Usage              types.Usage
	Provider           string
	Model              string
	Extra              map[string]any
}

// assistantClientMsgID derives the assistant-side idempotency key: the
// provider's response id when available, otherwise a compound of the
// user's key and the role instance so each persona in a group room
// completes against its own row.
func assistantClientMsgID(in CompleteInput) string {
	if in.ProviderResponseID != "" {
		return in.ProviderResponseID
	}
	return fmt.Sprintf("%s:%s:assistant", in.UserClientMsgID, in.RoleInstanceID)
}

// CompleteAssistant records a finished assistant response: it upserts
// the assistant-side message, transitions it to completed with its
// structured payload, completes the originating user message, and
// triggers the metering debit. Webhook retries collapse onto the same
// row and the debit applies at most once. A billing failure is logged,
// never rolled back into the message state.
func (s *Service) CompleteAssistant(ctx context.Context, in CompleteInput) (*types.Message, error) {
	if in.ThreadID == uuid.Nil {
		return nil, fmt.Errorf("thread id is required")
	}
	if in.UserClientMsgID == "" {
		return nil, fmt.Errorf("user client_msg_id is required")
	}
	if in.RoleInstanceID == uuid.Nil && in.ProviderResponseID == "" {
		return nil, fmt.Errorf("role instance id or provider response id is required")
	}

	userMsg, err := s.store.GetByClientMsgID(ctx, in.ThreadID, in.UserClientMsgID)
	if err != nil {
		return nil, fmt.Errorf("originating user message: %w", err)
	}

	cost := s.meter.Breakdown(userMsg.Content, in.Content)
	meta := &types.MessageMeta{
		Provider:   in.Provider,
		Model:      in.Model,
		ResponseID: in.ProviderResponseID,
		Usage:      &in.Usage,
		Cost:       cost,
		ReplyTo:    &userMsg.ID,
		Extra:      in.Extra,
	}

	roleInstanceID := &in.RoleInstanceID
	if in.RoleInstanceID == uuid.Nil {
		roleInstanceID = nil
	}

	assistant, created, err := s.store.Create(ctx, &types.Message{
		ThreadID:       in.ThreadID,
		RoleInstanceID: roleInstanceID,
		Role:           types.RoleAssistant,
		Type:           types.TypeFinal,
		Content:        in.Content,
		Status:         types.StatusQueued,
		ClientMsgID:    assistantClientMsgID(in),
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.Complete(ctx, assistant.ID, in.Content, meta); err != nil {
		return nil, err
	}

	// Close out the originating user message. A failure here is not
	// fatal: the assistant response is already durable.
	if err := s.store.Complete(ctx, userMsg.ID, userMsg.Content, userMsg.Meta); err != nil {
		s.logger.WithError(err).WithField("message_id", userMsg.ID).Warn("failed to complete originating user message")
	}

	final, err := s.store.GetByID(ctx, assistant.ID)
	if err != nil {
		return nil, err
	}

	eventType := realtime.EventMessageUpdated
	if created {
		eventType = realtime.EventMessageCreated
	}
	s.hub.Publish(final.ThreadID, realtime.Event{
		Type:    eventType,
		RoomID:  final.ThreadID,
		Message: final,
	})
	s.publishUpdated(ctx, userMsg.ID)

	// The debit is idempotent on the assistant message id, so retried
	// completions never double-charge.
	if err := s.meter.Charge(ctx, userMsg.SenderID, assistant.ID, cost); err != nil {
		s.logger.WithError(err).WithField("message_id", assistant.ID).Error("metering failed for completed message")
	}

	return final, nil
}

// Fail records an error summary and moves the message to failed. No cost
// is debited. This is also the operator recovery path for messages stuck
// in processing.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, summary string) error {
	if err := s.store.Fail(ctx, id, summary); err != nil {
		return err
	}
	s.publishUpdated(ctx, id)
	return nil
}

// Delete soft-deletes a message, retaining content for audit. Deleting
// an already-deleted message succeeds without mutation.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	mutated, err := s.store.SoftDelete(ctx, id)
	if err != nil {
		return err
	}
	if mutated {
		msg, err := s.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		s.hub.Publish(msg.ThreadID, realtime.Event{
			Type:    realtime.EventMessageDeleted,
			RoomID:  msg.ThreadID,
			Message: msg,
		})
	}
	return nil
}

// List returns a thread's messages, most recent first.
func (s *Service) List(ctx context.Context, threadID uuid.UUID, limit int) ([]types.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByThread(ctx, threadID, limit)
}

func (s *Service) publishUpdated(ctx context.Context, id uuid.UUID) {
	msg, err := s.store.GetByID(ctx, id)
	if err != nil {
		s.logger.WithError(err).WithField("message_id", id).Warn("failed to load message for event")
		return
	}
	s.hub.Publish(msg.ThreadID, realtime.Event{
		Type:    realtime.EventMessageUpdated,
		RoomID:  msg.ThreadID,
		Message: msg,
	})
}
