package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatbridge/linecore/pkg/line"
	"github.com/chatbridge/linecore/pkg/services"
)

// Webhook health states, ordered roughly by how broken things are.
const (
	StatusNotConfigured      = "not_configured"
	StatusConfigurationError = "configuration_error"
	StatusActive             = "active"
	StatusInactive           = "inactive"
	StatusError              = "error"
)

// Status is the result of probing LINE for a bot's webhook health. It is
// both the REST response and the webhook_status_update broadcast payload.
type Status struct {
	Status            string    `json:"status"`
	StatusText        string    `json:"status_text"`
	IsConfigured      bool      `json:"is_configured"`
	LineAPIAccessible bool      `json:"line_api_accessible"`
	WebhookWorking    bool      `json:"webhook_working"`
	WebhookURL        string    `json:"webhook_url"`
	CheckedAt         time.Time `json:"checked_at"`
}

// WebhookURL returns the externally reachable webhook URL for a bot.
func (p *Processor) WebhookURL(botID uuid.UUID) string {
	return p.publicBaseURL + "/api/v1/webhooks/" + botID.String()
}

// CheckStatus probes LINE for the bot's credential and endpoint health and
// broadcasts the result on the webhook_status channel. Only an unknown bot
// is an error; every degraded state is reported inside the Status.
func (p *Processor) CheckStatus(ctx context.Context, botID uuid.UUID) (*Status, error) {
	bot, err := p.deps.Bots.GetBot(ctx, botID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, ErrBotNotFound
		}
		return nil, fmt.Errorf("failed to load bot: %w", err)
	}

	webhookURL := p.WebhookURL(botID)

	var infoErr, endpointErr error
	var endpoint *line.WebhookEndpoint
	if bot.IsConfigured() {
		_, infoErr = p.deps.Line.GetBotInfo(ctx, bot.ChannelToken)
		if infoErr == nil {
			endpoint, endpointErr = p.deps.Line.GetWebhookEndpoint(ctx, bot.ChannelToken)
		}
	}

	status := buildStatus(bot.IsConfigured(), infoErr, endpoint, endpointErr, webhookURL)
	status.CheckedAt = time.Now().UTC()

	p.deps.Publisher.PublishWebhookStatus(ctx, bot.ID, status)
	return status, nil
}

// buildStatus classifies probe outcomes into a Status. infoErr is the
// /v2/bot/info result, endpoint/endpointErr the webhook endpoint lookup
// (only attempted when the info probe succeeded).
func buildStatus(configured bool, infoErr error, endpoint *line.WebhookEndpoint, endpointErr error, webhookURL string) *Status {
	s := &Status{
		IsConfigured: configured,
		WebhookURL:   webhookURL,
	}

	if !configured {
		s.Status = StatusNotConfigured
		s.StatusText = "Channel token or secret is missing"
		return s
	}

	if infoErr != nil {
		if code := apiStatusCode(infoErr); code == 401 || code == 403 {
			s.Status = StatusConfigurationError
			s.StatusText = "LINE rejected the channel credentials"
		} else {
			s.Status = StatusError
			s.StatusText = "LINE API request failed"
		}
		return s
	}
	s.LineAPIAccessible = true

	if endpointErr != nil {
		// LINE answers 404 while no endpoint has been registered.
		if apiStatusCode(endpointErr) == 404 {
			s.Status = StatusInactive
			s.StatusText = "No webhook endpoint is registered with LINE"
		} else {
			s.Status = StatusError
			s.StatusText = "Webhook endpoint lookup failed"
		}
		return s
	}

	if !endpoint.Active {
		s.Status = StatusInactive
		s.StatusText = "Webhook endpoint is disabled in the LINE console"
		return s
	}

	s.Status = StatusActive
	if endpoint.Endpoint == webhookURL {
		s.WebhookWorking = true
		s.StatusText = "Webhook is active"
	} else {
		s.StatusText = "Webhook is active but points to a different URL"
	}
	return s
}

// apiStatusCode extracts the HTTP status from a LINE API error, 0 otherwise.
func apiStatusCode(err error) int {
	var apiErr *line.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
