package api

import (
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/chatbridge/linecore/pkg/models"
)

// extractUserID extracts the dashboard caller identity from proxy headers.
// Priority: X-Forwarded-User (oauth2-proxy) > X-Forwarded-Email (oauth2-proxy) >
// X-Remote-User (kube-rbac-proxy) > "api-client"
func extractUserID(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	if user := c.Request().Header.Get("X-Remote-User"); user != "" {
		return user
	}
	return "api-client"
}

// requireOwnedBot loads the bot and verifies the caller owns it. Bots owned
// by someone else answer 404 so dashboard endpoints do not leak existence.
func (s *Server) requireOwnedBot(c *echo.Context, botID uuid.UUID) (*models.Bot, error) {
	bot, err := s.bots.GetBot(c.Request().Context(), botID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if bot.OwnerID != extractUserID(c) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	return bot, nil
}
