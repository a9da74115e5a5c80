package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lumiclass/chat-backend/internal/realtime"
)

const snapshotMessageCount = 50

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RoomFeed handles GET /chat/rooms/:id/ws: it upgrades the connection
// and serves the room's snapshot-then-tail event feed. Subscription
// happens before the snapshot read so no change between the two is lost;
// an event may arrive both in the snapshot and the tail, which the
// at-least-once contract permits.
func (s *Server) RoomFeed(c echo.Context) error {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
	}

	ctx := c.Request().Context()
	userID := GetUserID(c)

	member, err := s.roomService.IsMember(ctx, roomID, userID)
	if err != nil {
		s.logger.WithError(err).Error("failed to check membership")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to open feed"})
	}
	if !member {
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this room"})
	}

	sub := s.hub.Subscribe(roomID)

	room, err := s.roomService.Get(ctx, roomID)
	if err != nil {
		sub.Close()
		s.logger.WithError(err).Error("failed to load room for snapshot")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to open feed"})
	}

	// Settings are the hot part of the snapshot; serve them through the
	// cache.
	settings, err := s.roomService.CachedSettings(ctx, roomID)
	if err != nil {
		sub.Close()
		s.logger.WithError(err).Error("failed to load settings for snapshot")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to open feed"})
	}
	room.Settings = settings

	history, err := s.msgService.List(ctx, roomID, snapshotMessageCount)
	if err != nil {
		sub.Close()
		s.logger.WithError(err).Error("failed to load history for snapshot")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to open feed"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		sub.Close()
		s.logger.WithError(err).Error("websocket upgrade failed")
		return err
	}

	snapshot := realtime.Event{
		Type:   realtime.EventSnapshot,
		RoomID: roomID,
		Snapshot: &realtime.Snapshot{
			Room:     room,
			Messages: history,
		},
	}

	client := realtime.NewClient(conn, sub, s.logger)
	client.Run(snapshot)
	return nil
}
