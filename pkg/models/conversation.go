package models

import (
	"time"

	"github.com/google/uuid"
)

// Sender types stored on messages.
const (
	SenderUser  = "user"
	SenderBot   = "bot"
	SenderAdmin = "admin"
)

// Webhook event types persisted with each message.
const (
	EventTypeMessage  = "message"
	EventTypePostback = "postback"
	EventTypeFollow   = "follow"
	EventTypeUnfollow = "unfollow"
)

// Message content types.
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeVideo    = "video"
	MessageTypeAudio    = "audio"
	MessageTypeFile     = "file"
	MessageTypeLocation = "location"
	MessageTypeSticker  = "sticker"
	MessageTypeFlex     = "flex"
	MessageTypePostback = "postback"
	MessageTypeEvent    = "event"
)

// IsMediaType reports whether messages of this type carry binary content
// that must be fetched from the LINE content endpoint.
func IsMediaType(messageType string) bool {
	switch messageType {
	case MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

// Conversation is one (bot, LINE user) exchange thread.
type Conversation struct {
	ID            uuid.UUID `db:"id" json:"id"`
	BotID         uuid.UUID `db:"bot_id" json:"bot_id"`
	LineUserID    string    `db:"line_user_id" json:"line_user_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	LastMessageAt time.Time `db:"last_message_at" json:"last_message_at"`
}

// Message is one entry in a conversation. Content is a JSON object whose
// shape depends on MessageType ({"text": ...}, {"sticker_id": ...}, ...).
type Message struct {
	ID             int64     `db:"id" json:"id"`
	ConversationID uuid.UUID `db:"conversation_id" json:"conversation_id"`
	BotID          uuid.UUID `db:"bot_id" json:"bot_id"`
	LineMessageID  *string   `db:"line_message_id" json:"line_message_id,omitempty"`
	EventType      string    `db:"event_type" json:"event_type"`
	MessageType    string    `db:"message_type" json:"message_type"`
	Content        JSONMap   `db:"content" json:"content"`
	SenderType     string    `db:"sender_type" json:"sender_type"`
	AdminUser      JSONMap   `db:"admin_user" json:"admin_user,omitempty"`
	MediaURL       *string   `db:"media_url" json:"media_url,omitempty"`
	MediaPath      *string   `db:"media_path" json:"media_path,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// AdminUser identifies the dashboard operator behind an admin-sent message.
type AdminUser struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// AsMap converts the identity for storage in the message's admin_user column.
func (a AdminUser) AsMap() JSONMap {
	m := JSONMap{"id": a.ID}
	if a.Name != "" {
		m["name"] = a.Name
	}
	if a.Email != "" {
		m["email"] = a.Email
	}
	return m
}

// AppendUserMessageInput contains fields for persisting an inbound user event.
type AppendUserMessageInput struct {
	BotID         uuid.UUID
	LineUserID    string
	LineMessageID *string
	EventType     string
	MessageType   string
	Content       JSONMap
}

// AppendBotMessageInput contains fields for persisting an outbound bot reply.
type AppendBotMessageInput struct {
	BotID       uuid.UUID
	LineUserID  string
	MessageType string
	Content     JSONMap
	MediaURL    *string
}

// AppendAdminMessageInput contains fields for persisting an operator-sent message.
type AppendAdminMessageInput struct {
	BotID      uuid.UUID
	LineUserID string
	Content    JSONMap
	Admin      AdminUser
}

// MessageFilters contains paging and filtering options for listing messages.
type MessageFilters struct {
	SenderType string `json:"sender_type,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// MessagePage contains one page of messages in ascending (created_at, id) order.
type MessagePage struct {
	Messages []*Message `json:"messages"`
	Total    int        `json:"total"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}

// ConversationSummary is a dashboard list row with last-message preview.
type ConversationSummary struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	BotID              uuid.UUID `db:"bot_id" json:"bot_id"`
	LineUserID         string    `db:"line_user_id" json:"line_user_id"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	LastMessageAt      time.Time `db:"last_message_at" json:"last_message_at"`
	LastMessageType    string    `db:"last_message_type" json:"last_message_type,omitempty"`
	LastMessagePreview string    `db:"last_message_preview" json:"last_message_preview,omitempty"`
	MessageCount       int       `db:"message_count" json:"message_count"`
}

// ConversationPage contains one page of conversation summaries.
type ConversationPage struct {
	Conversations []*ConversationSummary `json:"conversations"`
	Total         int                    `json:"total"`
	Limit         int                    `json:"limit"`
	Offset        int                    `json:"offset"`
}

// ConversationStats aggregates per-bot message volume for dashboards.
type ConversationStats struct {
	Conversations int `json:"conversations"`
	TotalMessages int `json:"total_messages"`
	UserMessages  int `json:"user_messages"`
	BotMessages   int `json:"bot_messages"`
	AdminMessages int `json:"admin_messages"`
}
