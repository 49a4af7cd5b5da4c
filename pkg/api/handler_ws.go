package api

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

// MintWSTokenRequest is the HTTP request body for POST /api/v1/ws/token.
type MintWSTokenRequest struct {
	// Kind selects the socket flavor: "bot" or "dashboard".
	Kind string `json:"kind"`
	// BotID is required for bot tokens and ignored for dashboard tokens.
	BotID string `json:"bot_id,omitempty"`
}

// MintWSTokenResponse is returned by POST /api/v1/ws/token.
type MintWSTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// mintWSTokenHandler handles POST /api/v1/ws/token. The caller identity
// comes from the auth proxy headers; ownership of the target bot is checked
// here so the handshake only has to verify the signature.
func (s *Server) mintWSTokenHandler(c *echo.Context) error {
	secret := s.cfg.WS.TokenSecret()
	if secret == "" {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "websocket tokens are not configured")
	}

	var req MintWSTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	claims := wsClaims{Sub: extractUserID(c), Kind: req.Kind}

	switch req.Kind {
	case wsKindBot:
		botID, err := uuid.Parse(req.BotID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "bot_id is required for bot tokens")
		}
		if _, err := s.requireOwnedBot(c, botID); err != nil {
			return err
		}
		claims.BotID = botID.String()
	case wsKindDashboard:
		// Dashboard tokens carry only the caller identity.
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "kind must be bot or dashboard")
	}

	token, expiresAt := mintWSToken([]byte(secret), claims, s.cfg.WS.TokenTTL, time.Now())
	return c.JSON(http.StatusOK, &MintWSTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// wsBotHandler handles GET /ws/bot/:bot_id. The token must be a bot token
// bound to the same bot id as the path.
func (s *Server) wsBotHandler(c *echo.Context) error {
	botID, err := parseBotID(c)
	if err != nil {
		return err
	}

	claims, err := s.verifyHandshake(c, wsKindBot)
	if err != nil {
		return err
	}
	if claims.BotID != botID.String() {
		return echo.NewHTTPError(http.StatusForbidden, "token is not valid for this bot")
	}

	bot, err := s.bots.GetBot(c.Request().Context(), botID)
	if err != nil {
		return mapServiceError(err)
	}

	conn, err := s.acceptWS(c)
	if err != nil {
		return err
	}

	// Blocks until the socket closes.
	s.registry.HandleBotConnection(c.Request().Context(), conn, bot, claims.Sub)
	return nil
}

// wsDashboardHandler handles GET /ws/dashboard/:user_id. The token subject
// must match the path.
func (s *Server) wsDashboardHandler(c *echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	claims, err := s.verifyHandshake(c, wsKindDashboard)
	if err != nil {
		return err
	}
	if claims.Sub != userID {
		return echo.NewHTTPError(http.StatusForbidden, "token is not valid for this user")
	}

	conn, err := s.acceptWS(c)
	if err != nil {
		return err
	}

	s.registry.HandleDashboardConnection(c.Request().Context(), conn, claims.Sub)
	return nil
}

// verifyHandshake validates the token query parameter for a handshake.
func (s *Server) verifyHandshake(c *echo.Context, wantKind string) (wsClaims, error) {
	secret := s.cfg.WS.TokenSecret()
	if secret == "" {
		return wsClaims{}, echo.NewHTTPError(http.StatusServiceUnavailable, "websocket tokens are not configured")
	}

	token := c.QueryParam("token")
	if token == "" {
		return wsClaims{}, echo.NewHTTPError(http.StatusUnauthorized, "token query parameter is required")
	}

	claims, err := verifyWSToken([]byte(secret), token, time.Now())
	if err != nil {
		return wsClaims{}, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	if claims.Kind != wantKind {
		return wsClaims{}, echo.NewHTTPError(http.StatusForbidden, "wrong token kind")
	}
	return claims, nil
}

// acceptWS upgrades the request to a WebSocket with the configured origin
// allowlist. Accept writes its own failure response; the returned error is
// only propagated for logging.
func (s *Server) acceptWS(c *echo.Context) (*websocket.Conn, error) {
	return websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: wsOriginPatterns(s.cfg.Server),
	})
}
