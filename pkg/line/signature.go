// Package line implements the subset of the LINE Messaging API the platform
// uses: webhook signature verification, event decoding, and the reply, push,
// content, and bot-info endpoints.
package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// VerifySignature validates an X-Line-Signature header against the raw
// request body using HMAC-SHA256 with the bot's channel secret. The
// comparison is constant-time.
func VerifySignature(channelSecret string, body []byte, signature string) bool {
	if channelSecret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
