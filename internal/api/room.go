package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lumiclass/chat-backend/internal/storage/postgres"
	"github.com/lumiclass/chat-backend/internal/types"
)

// CreateRoomRequest is the request body for creating a room.
type CreateRoomRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// EnsureMembershipRequest is the request body for adding a member.
type EnsureMembershipRequest struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	UserType string `json:"user_type"`
}

// AddRoleInstanceRequest is the request body for binding an AI persona.
type AddRoleInstanceRequest struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

// CreateRoom creates a new room owned by the caller.
func (s *Server) CreateRoom(c echo.Context) error {
	var req CreateRoomRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if req.Title == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "title is required"})
	}

	room, err := s.roomService.Create(c.Request().Context(), GetUserID(c), req.Title, req.Description)
	if err != nil {
		s.logger.WithError(err).Error("failed to create room")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create room"})
	}

	return c.JSON(http.StatusCreated, room)
}

// GetRoom returns a room with its members and role instances.
func (s *Server) GetRoom(c echo.Context) error {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
	}

	ctx := c.Request().Context()
	room, err := s.roomService.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		}
		s.logger.WithError(err).Error("failed to get room")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get room"})
	}

	settings, err := s.roomService.CachedSettings(ctx, roomID)
	if err != nil {
		s.logger.WithError(err).Error("failed to get room settings")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get room"})
	}
	room.Settings = settings

	members, err := s.roomService.ListMembers(ctx, roomID)
	if err != nil {
		s.logger.WithError(err).Error("failed to list members")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get room"})
	}

	instances, err := s.roomService.ListRoleInstances(ctx, roomID)
	if err != nil {
		s.logger.WithError(err).Error("failed to list role instances")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get room"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"room":           room,
		"members":        members,
		"role_instances": instances,
	})
}

// DeleteRoom cascades a room and its dependents away.
func (s *Server) DeleteRoom(c echo.Context) error {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
	}

	if err := s.roomService.Delete(c.Request().Context(), roomID); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		}
		s.logger.WithError(err).Error("failed to delete room")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to delete room"})
	}

	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// UpdateRoomSettings merges the given partial settings map into the
// room's settings and returns the persisted result.
func (s *Server) UpdateRoomSettings(c echo.Context) error {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
	}

	partial := map[string]any{}
	if err := c.Bind(&partial); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	persisted, err := s.roomService.UpdateSettings(c.Request().Context(), roomID, partial)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		}
		s.logger.WithError(err).Error("failed to update settings")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to update settings"})
	}

	return c.JSON(http.StatusOK, persisted)
}

// EnsureMembership idempotently adds a user to a room.
func (s *Server) EnsureMembership(c echo.Context) error {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
	}

	var req EnsureMembershipRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if req.UserID == "" {
		req.UserID = GetUserID(c)
	}

	err = s.roomService.EnsureMembership(c.Request().Context(), roomID, req.UserID, types.MemberRole(req.Role), req.UserType)
	if err != nil {
		s.logger.WithError(err).Error("failed to ensure membership")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to ensure membership"})
	}

	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// AddRoleInstance binds a new AI persona to a room.
func (s *Server) AddRoleInstance(c echo.Context) error {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
	}

	var req AddRoleInstanceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name is required"})
	}

	instance, err := s.roomService.AddRoleInstance(c.Request().Context(), roomID, req.Name, req.Model)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		}
		s.logger.WithError(err).Error("failed to add role instance")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to add role instance"})
	}

	return c.JSON(http.StatusCreated, instance)
}
