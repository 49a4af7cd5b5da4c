package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/chatbridge/linecore/pkg/line"
	"github.com/chatbridge/linecore/pkg/models"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200

	// LINE rejects text messages above 5000 characters.
	maxAdminTextLength = 5000
)

// listConversationsHandler handles GET /api/v1/bots/:bot_id/conversations.
func (s *Server) listConversationsHandler(c *echo.Context) error {
	botID, err := parseBotID(c)
	if err != nil {
		return err
	}
	limit, offset, err := parsePaging(c)
	if err != nil {
		return err
	}
	if _, err := s.requireOwnedBot(c, botID); err != nil {
		return err
	}

	page, err := s.conversations.ListConversations(c.Request().Context(), botID, limit, offset, c.QueryParam("search"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// conversationStatsHandler handles GET /api/v1/bots/:bot_id/conversations/stats.
func (s *Server) conversationStatsHandler(c *echo.Context) error {
	botID, err := parseBotID(c)
	if err != nil {
		return err
	}
	if _, err := s.requireOwnedBot(c, botID); err != nil {
		return err
	}

	stats, err := s.conversations.Stats(c.Request().Context(), botID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// listMessagesHandler handles GET /api/v1/bots/:bot_id/conversations/:line_user_id/messages.
// Messages come back in ascending (created_at, id) order; an unknown user
// yields an empty page, not a 404.
func (s *Server) listMessagesHandler(c *echo.Context) error {
	botID, err := parseBotID(c)
	if err != nil {
		return err
	}
	lineUserID := c.Param("line_user_id")
	if lineUserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "line_user_id is required")
	}

	limit, offset, err := parsePaging(c)
	if err != nil {
		return err
	}

	filters := models.MessageFilters{Limit: limit, Offset: offset}
	if v := c.QueryParam("sender_type"); v != "" {
		switch v {
		case "user", "bot", "admin":
			filters.SenderType = v
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid sender_type: must be user, bot, or admin")
		}
	}

	if _, err := s.requireOwnedBot(c, botID); err != nil {
		return err
	}

	page, err := s.conversations.ListMessages(c.Request().Context(), botID, lineUserID, filters)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// SendAdminMessageRequest is the HTTP request body for the admin-send endpoint.
type SendAdminMessageRequest struct {
	Text string `json:"text"`
}

// sendAdminMessageHandler handles POST /api/v1/bots/:bot_id/conversations/:line_user_id/messages.
// Delivers the text to the user over LINE push, then persists it and
// broadcasts it to dashboard sockets. Nothing is persisted when delivery fails.
func (s *Server) sendAdminMessageHandler(c *echo.Context) error {
	botID, err := parseBotID(c)
	if err != nil {
		return err
	}
	lineUserID := c.Param("line_user_id")
	if lineUserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "line_user_id is required")
	}

	var req SendAdminMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	if len(req.Text) > maxAdminTextLength {
		return echo.NewHTTPError(http.StatusBadRequest, "text exceeds maximum length of 5000 characters")
	}

	bot, err := s.requireOwnedBot(c, botID)
	if err != nil {
		return err
	}
	if s.lineClient == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "message delivery is not available")
	}
	if !bot.IsConfigured() {
		return echo.NewHTTPError(http.StatusBadRequest, "bot channel credentials not configured")
	}

	ctx := c.Request().Context()
	if err := s.lineClient.PushMessage(ctx, bot.ChannelToken, lineUserID, []line.Message{line.NewTextMessage(req.Text)}); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "failed to deliver message to LINE")
	}

	msg, err := s.conversations.AppendAdminMessage(ctx, models.AppendAdminMessageInput{
		BotID:      botID,
		LineUserID: lineUserID,
		Content:    models.JSONMap{"text": req.Text},
		Admin:      models.AdminUser{ID: extractUserID(c)},
	})
	if err != nil {
		return mapServiceError(err)
	}

	if s.publisher != nil {
		s.publisher.PublishChatMessage(ctx, botID, lineUserID, msg)
	}

	return c.JSON(http.StatusCreated, msg)
}

// parsePaging parses limit/offset query parameters with defaults and caps.
func parsePaging(c *echo.Context) (limit, offset int, err error) {
	limit = defaultPageLimit
	if v := c.QueryParam("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n <= 0 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be a positive integer")
		}
		if n > maxPageLimit {
			n = maxPageLimit
		}
		limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid offset: must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}
