package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lumiclass/chat-backend/internal/types"
)

// BalanceResponse is the response for the balance endpoint.
type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// GetBalance handles GET /chat/food/balance.
func (s *Server) GetBalance(c echo.Context) error {
	userID := GetUserID(c)

	balance, err := s.meter.Balance(c.Request().Context(), userID)
	if err != nil {
		s.logger.WithError(err).Error("failed to get balance")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get balance"})
	}

	return c.JSON(http.StatusOK, BalanceResponse{UserID: userID, Balance: balance})
}

// GetFoodHistory handles GET /chat/food/history.
func (s *Server) GetFoodHistory(c echo.Context) error {
	userID := GetUserID(c)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	history, err := s.meter.History(c.Request().Context(), userID, limit)
	if err != nil {
		s.logger.WithError(err).Error("failed to get food history")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get history"})
	}

	if history == nil {
		history = []types.FoodTransaction{}
	}
	return c.JSON(http.StatusOK, map[string]any{"transactions": history})
}
