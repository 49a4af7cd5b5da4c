package webhook

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chatbridge/linecore/pkg/line"
)

func TestBuildStatus(t *testing.T) {
	const webhookURL = "https://bots.example.com/api/v1/webhooks/5f0c2b1a-9a4e-4a77-9a3f-2f2a6f2f9b11"

	tests := []struct {
		name        string
		configured  bool
		infoErr     error
		endpoint    *line.WebhookEndpoint
		endpointErr error

		wantStatus     string
		wantAccessible bool
		wantWorking    bool
	}{
		{
			name:       "missing credentials",
			configured: false,
			wantStatus: StatusNotConfigured,
		},
		{
			name:       "rejected token",
			configured: true,
			infoErr:    &line.APIError{StatusCode: 401, Body: "invalid token"},
			wantStatus: StatusConfigurationError,
		},
		{
			name:       "forbidden token",
			configured: true,
			infoErr:    &line.APIError{StatusCode: 403, Body: "forbidden"},
			wantStatus: StatusConfigurationError,
		},
		{
			name:       "line api down",
			configured: true,
			infoErr:    errors.New("dial tcp: connection refused"),
			wantStatus: StatusError,
		},
		{
			name:           "no endpoint registered",
			configured:     true,
			endpointErr:    &line.APIError{StatusCode: 404, Body: "not found"},
			wantStatus:     StatusInactive,
			wantAccessible: true,
		},
		{
			name:           "endpoint lookup failed",
			configured:     true,
			endpointErr:    &line.APIError{StatusCode: 500, Body: "oops"},
			wantStatus:     StatusError,
			wantAccessible: true,
		},
		{
			name:           "endpoint disabled",
			configured:     true,
			endpoint:       &line.WebhookEndpoint{Endpoint: webhookURL, Active: false},
			wantStatus:     StatusInactive,
			wantAccessible: true,
		},
		{
			name:           "active and matching",
			configured:     true,
			endpoint:       &line.WebhookEndpoint{Endpoint: webhookURL, Active: true},
			wantStatus:     StatusActive,
			wantAccessible: true,
			wantWorking:    true,
		},
		{
			name:           "active but pointed elsewhere",
			configured:     true,
			endpoint:       &line.WebhookEndpoint{Endpoint: "https://old.example.com/hook", Active: true},
			wantStatus:     StatusActive,
			wantAccessible: true,
			wantWorking:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildStatus(tt.configured, tt.infoErr, tt.endpoint, tt.endpointErr, webhookURL)

			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.configured, got.IsConfigured)
			assert.Equal(t, tt.wantAccessible, got.LineAPIAccessible)
			assert.Equal(t, tt.wantWorking, got.WebhookWorking)
			assert.Equal(t, webhookURL, got.WebhookURL)
			assert.NotEmpty(t, got.StatusText)
		})
	}
}

func TestAPIStatusCode(t *testing.T) {
	assert.Equal(t, 404, apiStatusCode(&line.APIError{StatusCode: 404}))
	assert.Equal(t, 401, apiStatusCode(fmt.Errorf("probe: %w", &line.APIError{StatusCode: 401})))
	assert.Equal(t, 0, apiStatusCode(errors.New("timeout")))
	assert.Equal(t, 0, apiStatusCode(nil))
}
