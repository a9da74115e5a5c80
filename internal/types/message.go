package types

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole represents the author side of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageType distinguishes logical message kinds within a thread.
type MessageType string

const (
	TypeUserRequest MessageType = "user_request"
	TypeFinal       MessageType = "final"
)

// MessageStatus is the lifecycle state of a message.
type MessageStatus string

const (
	StatusQueued     MessageStatus = "queued"
	StatusProcessing MessageStatus = "processing"
	StatusCompleted  MessageStatus = "completed"
	StatusFailed     MessageStatus = "failed"
	StatusDeleted    MessageStatus = "deleted"
)

// CanTransition reports whether a message may move from one status to
// another. Deleted is terminal and reachable from any live state;
// completed and failed are otherwise terminal.
func CanTransition(from, to MessageStatus) bool {
	if from == StatusDeleted {
		return false
	}
	switch to {
	case StatusProcessing:
		return from == StatusQueued
	case StatusCompleted:
		return from == StatusQueued || from == StatusProcessing
	case StatusFailed:
		return from == StatusQueued || from == StatusProcessing
	case StatusDeleted:
		return true
	}
	return false
}

// Usage contains token counts reported by the completion provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CostBreakdown records how a completed exchange was priced.
type CostBreakdown struct {
	InputChars  int   `json:"input_chars"`
	OutputChars int   `json:"output_chars"`
	InputCost   int64 `json:"input_cost"`
	OutputCost  int64 `json:"output_cost"`
	TotalCost   int64 `json:"total_cost"`
}

// MessageMeta is the structured payload attached to completed assistant
// messages. Fields the core branches on (usage, cost, reply linkage) are
// typed; Extra carries provider-specific metadata only.
type MessageMeta struct {
	Provider   string         `json:"provider,omitempty"`
	Model      string         `json:"model,omitempty"`
	ResponseID string         `json:"response_id,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
	Cost       *CostBreakdown `json:"cost,omitempty"`
	ReplyTo    *uuid.UUID     `json:"reply_to,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Message is a single entry in a room's thread. ClientMsgID is the
// client-supplied idempotency key, unique per thread. Seq is assigned by
// the store and is monotonic, breaking creation-time ties under
// concurrent inserts.
type Message struct {
	ID             uuid.UUID     `json:"id"`
	Seq            int64         `json:"seq"`
	ThreadID       uuid.UUID     `json:"thread_id"`
	SenderID       string        `json:"sender_id,omitempty"`
	RoleInstanceID *uuid.UUID    `json:"role_instance_id,omitempty"`
	Role           MessageRole   `json:"role"`
	Type           MessageType   `json:"message_type"`
	Content        string        `json:"content"`
	Meta           *MessageMeta  `json:"content_json,omitempty"`
	Status         MessageStatus `json:"status"`
	ClientMsgID    string        `json:"client_msg_id"`
	ErrorSummary   *string       `json:"error_summary,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}
