package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lumiclass/chat-backend/internal/service/messages"
	"github.com/lumiclass/chat-backend/internal/storage/postgres"
	"github.com/lumiclass/chat-backend/internal/types"
)

// SubmitMessageRequest is the request body for submitting a user
// message.
type SubmitMessageRequest struct {
	Content        string     `json:"content"`
	ClientMsgID    string     `json:"client_msg_id"`
	RoleInstanceID *uuid.UUID `json:"role_instance_id,omitempty"`
}

// SubmitMessageResponse returns the stored message identity. Retried
// submissions with the same client_msg_id receive the same message_id.
type SubmitMessageResponse struct {
	MessageID   uuid.UUID `json:"message_id"`
	ClientMsgID string    `json:"client_msg_id"`
}

// CompleteMessageRequest is the completion callback body sent by the
// external worker.
type CompleteMessageRequest struct {
	UserClientMsgID    string         `json:"user_client_msg_id"`
	RoleInstanceID     uuid.UUID      `json:"role_instance_id"`
	ProviderResponseID string         `json:"provider_response_id,omitempty"`
	Content            string         `json:"content"`
	Usage              types.Usage    `json:"usage"`
	Provider           string         `json:"provider,omitempty"`
	Model              string         `json:"model,omitempty"`
	Extra              map[string]any `json:"extra,omitempty"`
}

// FailMessageRequest is the request body for failing a message.
type FailMessageRequest struct {
	Error string `json:"error"`
}

// SubmitMessage handles POST /chat/rooms/:id/messages.
func (s *Server) SubmitMessage(c echo.Context) error {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
	}

	var req SubmitMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if req.Content == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "content is required"})
	}
	if req.ClientMsgID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "client_msg_id is required"})
	}

	msg, err := s.msgService.Submit(c.Request().Context(), messages.SubmitInput{
		ThreadID:       threadID,
		UserID:         GetUserID(c),
		Content:        req.Content,
		ClientMsgID:    req.ClientMsgID,
		RoleInstanceID: req.RoleInstanceID,
	})
	if err != nil {
		if errors.Is(err, messages.ErrNotMember) {
			return c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this room"})
		}
		s.logger.WithError(err).Error("failed to submit message")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to submit message"})
	}

	return c.JSON(http.StatusOK, SubmitMessageResponse{
		MessageID:   msg.ID,
		ClientMsgID: msg.ClientMsgID,
	})
}

// ListMessages handles GET /chat/rooms/:id/messages.
func (s *Server) ListMessages(c echo.Context) error {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	msgs, err := s.msgService.List(c.Request().Context(), threadID, limit)
	if err != nil {
		s.logger.WithError(err).Error("failed to list messages")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list messages"})
	}

	if msgs == nil {
		msgs = []types.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}

// CompleteMessage handles POST /chat/rooms/:id/messages/complete, the
// completion callback from the external worker.
func (s *Server) CompleteMessage(c echo.Context) error {
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
	}

	var req CompleteMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if req.UserClientMsgID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "user_client_msg_id is required"})
	}

	msg, err := s.msgService.CompleteAssistant(c.Request().Context(), messages.CompleteInput{
		ThreadID:           threadID,
		UserClientMsgID:    req.UserClientMsgID,
		RoleInstanceID:     req.RoleInstanceID,
		ProviderResponseID: req.ProviderResponseID,
		Content:            req.Content,
		Usage:              req.Usage,
		Provider:           req.Provider,
		Model:              req.Model,
		Extra:              req.Extra,
	})
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "originating message not found"})
		}
		s.logger.WithError(err).Error("failed to complete message")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to complete message"})
	}

	return c.JSON(http.StatusOK, map[string]any{"message_id": msg.ID})
}

// ClaimMessage handles POST /chat/messages/:id/claim: the worker marks a
// queued message as processing before calling the provider. The claim
// goes through the service so room participants see the transition. A
// message already claimed or finished returns 409 and the caller moves
// on.
func (s *Server) ClaimMessage(c echo.Context) error {
	msgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid message id"})
	}

	if err := s.msgService.MarkProcessing(c.Request().Context(), msgID); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "message not found"})
		}
		if errors.Is(err, postgres.ErrInvalidTransition) {
			return c.JSON(http.StatusConflict, ErrorResponse{Error: "message is not claimable"})
		}
		s.logger.WithError(err).Error("failed to claim message")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to claim message"})
	}

	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// FailMessage handles POST /chat/messages/:id/fail.
func (s *Server) FailMessage(c echo.Context) error {
	msgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid message id"})
	}

	var req FailMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	if err := s.msgService.Fail(c.Request().Context(), msgID, req.Error); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "message not found"})
		}
		if errors.Is(err, postgres.ErrInvalidTransition) {
			return c.JSON(http.StatusConflict, ErrorResponse{Error: "message is not failable"})
		}
		s.logger.WithError(err).Error("failed to fail message")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to fail message"})
	}

	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// DeleteMessage handles DELETE /chat/messages/:id (soft delete).
func (s *Server) DeleteMessage(c echo.Context) error {
	msgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid message id"})
	}

	if err := s.msgService.Delete(c.Request().Context(), msgID); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "message not found"})
		}
		s.logger.WithError(err).Error("failed to delete message")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to delete message"})
	}

	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}
