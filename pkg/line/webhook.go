package line

import (
	"encoding/json"
	"fmt"
)

// Webhook event types delivered by the LINE platform.
const (
	EventTypeMessage  = "message"
	EventTypePostback = "postback"
	EventTypeFollow   = "follow"
	EventTypeUnfollow = "unfollow"
)

// WebhookPayload is the body of one LINE webhook delivery. An empty Events
// slice is a verification probe and must still be answered with 200.
type WebhookPayload struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// ParseWebhookPayload decodes a signature-verified webhook body.
func ParseWebhookPayload(body []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	return &payload, nil
}

// Event is one webhook event. Message stays raw until the caller knows the
// event is a message event.
type Event struct {
	Type           string          `json:"type"`
	ReplyToken     string          `json:"replyToken,omitempty"`
	Source         Source          `json:"source"`
	Message        json.RawMessage `json:"message,omitempty"`
	Postback       *Postback       `json:"postback,omitempty"`
	Timestamp      int64           `json:"timestamp"`
	WebhookEventID string          `json:"webhookEventId,omitempty"`
}

// DecodeMessage unmarshals the raw message field of a message event.
func (e *Event) DecodeMessage() (*MessageContent, error) {
	if len(e.Message) == 0 {
		return nil, fmt.Errorf("event has no message field")
	}
	var msg MessageContent
	if err := json.Unmarshal(e.Message, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message content: %w", err)
	}
	return &msg, nil
}

// Source identifies where an event came from.
type Source struct {
	Type    string `json:"type"` // "user", "group", "room"
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// ChatID returns the push target for the source: the group or room ID for
// multi-member chats, the user ID otherwise.
func (s Source) ChatID() string {
	switch s.Type {
	case "group":
		return s.GroupID
	case "room":
		return s.RoomID
	default:
		return s.UserID
	}
}

// Postback carries the data of a postback action the user tapped.
type Postback struct {
	Data   string            `json:"data"`
	Params map[string]string `json:"params,omitempty"`
}

// MessageContent is the decoded message field of a message event. Fields
// beyond ID and Type are populated per message type.
type MessageContent struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "text", "image", "video", "audio", "file", "location", "sticker"
	Text string `json:"text,omitempty"`

	// File messages
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`

	// Sticker messages
	StickerID string `json:"stickerId,omitempty"`
	PackageID string `json:"packageId,omitempty"`

	// Location messages
	Title     string  `json:"title,omitempty"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	// Audio and video messages
	Duration int64 `json:"duration,omitempty"`
}
