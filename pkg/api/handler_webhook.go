package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/chatbridge/linecore/pkg/webhook"
)

// maxWebhookBodySize caps inbound webhook payloads. LINE batches at most a
// few hundred events per delivery; anything near this size is not LINE.
const maxWebhookBodySize = 1 << 20

// webhookHandler handles POST /api/v1/webhooks/:bot_id.
// LINE retries on non-2xx, so every post-auth condition answers 200; only
// an unknown bot, missing credentials, or a bad signature get error codes.
func (s *Server) webhookHandler(c *echo.Context) error {
	botID, err := parseBotID(c)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBodySize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if len(body) > maxWebhookBodySize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "webhook payload too large")
	}

	signature := c.Request().Header.Get("X-Line-Signature")

	err = s.processor.HandleWebhook(c.Request().Context(), botID, body, signature)
	switch {
	case errors.Is(err, webhook.ErrBotNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "bot not found")
	case errors.Is(err, webhook.ErrBotNotConfigured):
		return echo.NewHTTPError(http.StatusBadRequest, "bot channel credentials not configured")
	case errors.Is(err, webhook.ErrInvalidSignature):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid signature")
	case err != nil:
		slog.Error("Webhook handling failed", "bot_id", botID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// webhookStatusHandler handles GET /api/v1/webhooks/:bot_id/status.
// Probes LINE for credential and endpoint health; dashboard-facing.
func (s *Server) webhookStatusHandler(c *echo.Context) error {
	botID, err := parseBotID(c)
	if err != nil {
		return err
	}
	if _, err := s.requireOwnedBot(c, botID); err != nil {
		return err
	}

	status, err := s.processor.CheckStatus(c.Request().Context(), botID)
	if err != nil {
		if errors.Is(err, webhook.ErrBotNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "bot not found")
		}
		slog.Error("Webhook status check failed", "bot_id", botID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusOK, status)
}

// parseBotID parses the :bot_id path parameter.
func parseBotID(c *echo.Context) (uuid.UUID, error) {
	botID, err := uuid.Parse(c.Param("bot_id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid bot id")
	}
	return botID, nil
}
