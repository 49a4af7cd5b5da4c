package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "test-channel-secret"
	body := []byte(`{"destination":"U1","events":[]}`)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		valid     bool
	}{
		{
			name:      "valid signature",
			secret:    secret,
			body:      body,
			signature: signBody(secret, body),
			valid:     true,
		},
		{
			name:      "wrong secret",
			secret:    "some-other-secret",
			body:      body,
			signature: signBody(secret, body),
			valid:     false,
		},
		{
			name:      "tampered body",
			secret:    secret,
			body:      []byte(`{"destination":"U1","events":[{}]}`),
			signature: signBody(secret, body),
			valid:     false,
		},
		{
			name:      "garbage signature",
			secret:    secret,
			body:      body,
			signature: "bm90LWEtc2lnbmF0dXJl",
			valid:     false,
		},
		{
			name:      "empty signature",
			secret:    secret,
			body:      body,
			signature: "",
			valid:     false,
		},
		{
			name:      "empty secret",
			secret:    "",
			body:      body,
			signature: signBody(secret, body),
			valid:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, VerifySignature(tt.secret, tt.body, tt.signature))
		})
	}
}
