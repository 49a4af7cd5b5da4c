package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chatbridge/linecore/pkg/config"
	"github.com/chatbridge/linecore/pkg/version"
)

// userAgent identifies this build to the LINE platform.
var userAgent = version.Full()

// API paths under the two LINE hosts.
const (
	replyPath    = "/v2/bot/message/reply"
	pushPath     = "/v2/bot/message/push"
	infoPath     = "/v2/bot/info"
	endpointPath = "/v2/bot/channel/webhook/endpoint"
	contentPath  = "/v2/bot/message/%s/content"
)

// maxErrorBody bounds how much of a LINE error response is kept for logs.
const maxErrorBody = 2048

// MaxMessagesPerRequest is the LINE platform limit on messages per reply or
// push call.
const MaxMessagesPerRequest = 5

// APIError is a non-2xx response from the LINE platform.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("LINE API error: status %d: %s", e.StatusCode, e.Body)
}

// Client calls the LINE Messaging API. It is tenant-agnostic: every call
// takes the channel token of the bot it acts for, so one client serves all
// registered bots.
type Client struct {
	apiBase  string
	dataBase string

	// apiClient bounds reply/push/info calls with the configured timeout.
	// contentClient has no client timeout; media downloads are bounded by
	// the caller's context instead, so large files are not cut off.
	apiClient     *http.Client
	contentClient *http.Client
}

// NewClient builds a client from the configured API bases.
func NewClient(cfg *config.LineConfig) *Client {
	return &Client{
		apiBase:       strings.TrimRight(cfg.APIBase, "/"),
		dataBase:      strings.TrimRight(cfg.DataBase, "/"),
		apiClient:     &http.Client{Timeout: cfg.Timeout},
		contentClient: &http.Client{},
	}
}

// ReplyMessage answers a webhook event using its one-shot reply token.
func (c *Client) ReplyMessage(ctx context.Context, channelToken, replyToken string, messages []Message) error {
	payload := map[string]any{
		"replyToken": replyToken,
		"messages":   messages,
	}
	return c.post(ctx, channelToken, c.apiBase+replyPath, payload)
}

// PushMessage sends messages outside the reply window.
func (c *Client) PushMessage(ctx context.Context, channelToken, to string, messages []Message) error {
	payload := map[string]any{
		"to":       to,
		"messages": messages,
	}
	return c.post(ctx, channelToken, c.apiBase+pushPath, payload)
}

// BotInfo is the LINE bot profile, used for credential and webhook checks.
type BotInfo struct {
	UserID      string `json:"userId"`
	BasicID     string `json:"basicId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl,omitempty"`
}

// GetBotInfo fetches the bot profile for the given channel token.
func (c *Client) GetBotInfo(ctx context.Context, channelToken string) (*BotInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+infoPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+channelToken)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call bot info API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var info BotInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode bot info: %w", err)
	}
	return &info, nil
}

// WebhookEndpoint is the webhook URL registered on the LINE channel.
type WebhookEndpoint struct {
	Endpoint string `json:"endpoint"`
	Active   bool   `json:"active"`
}

// GetWebhookEndpoint fetches the webhook endpoint registered for the
// channel. LINE answers 404 when no endpoint has been set yet.
func (c *Client) GetWebhookEndpoint(ctx context.Context, channelToken string) (*WebhookEndpoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+endpointPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+channelToken)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call webhook endpoint API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var endpoint WebhookEndpoint
	if err := json.NewDecoder(resp.Body).Decode(&endpoint); err != nil {
		return nil, fmt.Errorf("failed to decode webhook endpoint: %w", err)
	}
	return &endpoint, nil
}

// Content is a media download stream. Callers must close Body.
type Content struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// GetContent streams the binary content of a received message from the LINE
// data host. The passed context bounds the whole download.
func (c *Client) GetContent(ctx context.Context, channelToken, messageID string) (*Content, error) {
	url := fmt.Sprintf(c.dataBase+contentPath, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+channelToken)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.contentClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call content API: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &Content{
		Body:          resp.Body,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
	}, nil
}

func (c *Client) post(ctx context.Context, channelToken, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+channelToken)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call LINE API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
