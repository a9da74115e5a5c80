package api

import (
	"github.com/sirupsen/logrus"

	"github.com/lumiclass/chat-backend/internal/realtime"
	"github.com/lumiclass/chat-backend/internal/service"
	"github.com/lumiclass/chat-backend/internal/service/messages"
	"github.com/lumiclass/chat-backend/internal/service/metering"
	"github.com/lumiclass/chat-backend/internal/service/rooms"
)

// Server holds API dependencies.
type Server struct {
	authService *service.AuthService
	roomService *rooms.Service
	msgService  *messages.Service
	meter       *metering.Service
	hub         *realtime.Hub
	logger      *logrus.Logger
}

// NewServer creates a new API server.
func NewServer(authService *service.AuthService, roomService *rooms.Service, msgService *messages.Service, meter *metering.Service, hub *realtime.Hub, logger *logrus.Logger) *Server {
	return &Server{
		authService: authService,
		roomService: roomService,
		msgService:  msgService,
		meter:       meter,
		hub:         hub,
		logger:      logger,
	}
}
