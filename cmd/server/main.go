package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/lumiclass/chat-backend/internal/api"
	"github.com/lumiclass/chat-backend/internal/cache/redis"
	"github.com/lumiclass/chat-backend/internal/config"
	"github.com/lumiclass/chat-backend/internal/realtime"
	"github.com/lumiclass/chat-backend/internal/service"
	"github.com/lumiclass/chat-backend/internal/service/messages"
	"github.com/lumiclass/chat-backend/internal/service/metering"
	"github.com/lumiclass/chat-backend/internal/service/rooms"
	"github.com/lumiclass/chat-backend/internal/storage/postgres"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	// Configure log format
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	logger.Info("starting chat-backend server")

	// Connect to database
	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database.DSN)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis client
	redisClient, err := redis.New(cfg.Redis.URI)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()

	// Initialize repositories
	roomRepo := postgres.NewRoomRepository(db.Pool())
	memberRepo := postgres.NewMembershipRepository(db.Pool())
	memoryRepo := postgres.NewMemoryRepository(db.Pool())
	msgRepo := postgres.NewMessageRepository(db.Pool())
	foodRepo := postgres.NewFoodRepository(db.Pool())

	// Initialize realtime hub and services
	hub := realtime.NewHub(logger)
	authService := service.NewAuthService(cfg.Server.JWTSecret)
	meterService := metering.NewService(foodRepo, cfg.Metering.CharsPerFood, logger)
	roomService := rooms.NewService(roomRepo, memberRepo, memoryRepo, redisClient, hub, logger)
	msgService := messages.NewService(msgRepo, memberRepo, meterService, hub, logger)

	// Initialize API server
	server := api.NewServer(authService, roomService, msgService, meterService, hub, logger)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Add middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			}).Info("request")
			return nil
		},
	}))

	// Health check endpoint (public)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	// Chat routes (authenticated)
	chat := e.Group("/chat", server.AuthMiddleware)
	chat.POST("/rooms", server.CreateRoom)
	chat.GET("/rooms/:id", server.GetRoom)
	chat.DELETE("/rooms/:id", server.DeleteRoom)
	chat.PATCH("/rooms/:id/settings", server.UpdateRoomSettings)
	chat.POST("/rooms/:id/members", server.EnsureMembership)
	chat.POST("/rooms/:id/roles", server.AddRoleInstance)
	chat.POST("/rooms/:id/messages", server.SubmitMessage)
	chat.GET("/rooms/:id/messages", server.ListMessages)
	chat.POST("/rooms/:id/messages/complete", server.CompleteMessage)
	chat.GET("/rooms/:id/ws", server.RoomFeed)
	chat.POST("/messages/:id/claim", server.ClaimMessage)
	chat.POST("/messages/:id/fail", server.FailMessage)
	chat.DELETE("/messages/:id", server.DeleteMessage)
	chat.GET("/food/balance", server.GetBalance)
	chat.GET("/food/history", server.GetFoodHistory)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.WithField("addr", addr).Info("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown error")
	}

	logger.Info("server stopped")
}
