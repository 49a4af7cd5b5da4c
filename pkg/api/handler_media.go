package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/chatbridge/linecore/pkg/objectstore"
)

// ReprocessResponse is returned by POST /api/v1/bots/:bot_id/media/reprocess.
type ReprocessResponse struct {
	Resubmitted int `json:"resubmitted"`
}

// reprocessMediaHandler handles POST /api/v1/bots/:bot_id/media/reprocess.
// Requeues fetch jobs for the bot's media messages that still have no
// stored object.
func (s *Server) reprocessMediaHandler(c *echo.Context) error {
	botID, err := parseBotID(c)
	if err != nil {
		return err
	}
	if s.mediaPool == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "media processing is not available")
	}

	bot, err := s.requireOwnedBot(c, botID)
	if err != nil {
		return err
	}
	if !bot.IsConfigured() {
		return echo.NewHTTPError(http.StatusBadRequest, "bot channel credentials not configured")
	}

	n, err := s.mediaPool.ReprocessPending(c.Request().Context(), botID, bot.ChannelToken)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &ReprocessResponse{Resubmitted: n})
}

// mediaProxyHandler handles GET /api/v1/media/*.
// Streams objects from the store so browsers never need store credentials.
// Keys are scoped {bot_id}/{kind}/{file}; the first segment gates access.
func (s *Server) mediaProxyHandler(c *echo.Context) error {
	if s.objectStore == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "media storage is not available")
	}

	path := strings.TrimLeft(c.Param("*"), "/")
	if path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "object path is required")
	}

	scope, _, ok := strings.Cut(path, "/")
	botID, parseErr := uuid.Parse(scope)
	if !ok || parseErr != nil {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if _, err := s.requireOwnedBot(c, botID); err != nil {
		return err
	}

	obj, contentType, err := s.objectStore.Get(c.Request().Context(), path)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "resource not found")
		}
		slog.Error("Media proxy read failed", "path", path, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	defer obj.Close()

	resp := c.Response()
	resp.Header().Set("Content-Type", contentType)
	resp.Header().Set("Cache-Control", "private, max-age=3600")
	resp.WriteHeader(http.StatusOK)
	if _, err := io.Copy(resp, obj); err != nil {
		// Headers are out; nothing to answer. Usually the client went away.
		slog.Debug("Media proxy stream interrupted", "path", path, "error", err)
	}
	return nil
}
