package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/chatbridge/linecore/pkg/config"
)

// Browsers cannot set Authorization headers on WebSocket handshakes, so the
// dashboard first POSTs to /api/v1/ws/token behind the auth proxy and passes
// the short-lived token it gets back as a query parameter.

const (
	wsKindBot       = "bot"
	wsKindDashboard = "dashboard"
)

var (
	errInvalidWSToken = errors.New("invalid websocket token")
	errWSTokenExpired = errors.New("websocket token expired")
)

// wsClaims is the signed payload of a handshake token.
type wsClaims struct {
	Sub  string `json:"sub"`
	Kind string `json:"kind"`
	// BotID binds bot tokens to one bot. Empty for dashboard tokens.
	BotID string `json:"bot_id,omitempty"`
	Exp   int64  `json:"exp"`
}

// mintWSToken signs claims with an HMAC-SHA256 over the encoded payload.
// Token format: base64url(payload) "." base64url(signature).
func mintWSToken(secret []byte, claims wsClaims, ttl time.Duration, now time.Time) (string, time.Time) {
	expiresAt := now.Add(ttl).UTC()
	claims.Exp = expiresAt.Unix()

	payload, _ := json.Marshal(claims)
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + signWSPayload(secret, encoded), expiresAt
}

// verifyWSToken checks the signature and expiry and returns the claims.
func verifyWSToken(secret []byte, token string, now time.Time) (wsClaims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || sig == "" {
		return wsClaims{}, errInvalidWSToken
	}
	if !hmac.Equal([]byte(signWSPayload(secret, encoded)), []byte(sig)) {
		return wsClaims{}, errInvalidWSToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return wsClaims{}, errInvalidWSToken
	}
	var claims wsClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return wsClaims{}, errInvalidWSToken
	}
	if claims.Sub == "" || claims.Kind == "" {
		return wsClaims{}, errInvalidWSToken
	}
	if now.Unix() >= claims.Exp {
		return wsClaims{}, errWSTokenExpired
	}
	return claims, nil
}

func signWSPayload(secret []byte, encoded string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// wsOriginPatterns builds the handshake origin allowlist: localhost for
// development, the deployment's own host, and any configured extras.
func wsOriginPatterns(server *config.ServerConfig) []string {
	patterns := []string{"localhost:*", "127.0.0.1:*"}
	if u, err := url.Parse(server.PublicBaseURL); err == nil && u.Host != "" {
		patterns = append(patterns, u.Host)
	}
	patterns = append(patterns, server.AllowedWSOrigins...)
	return patterns
}
