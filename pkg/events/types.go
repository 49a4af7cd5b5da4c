// Package events provides real-time event delivery via WebSocket and
// Redis pub/sub for cross-process distribution.
//
// Each process runs one Registry (local socket bookkeeping), one
// Publisher (typed broadcast entry points) and, when Redis is
// configured, one Bridge (inbound cross-process delivery).
//
// Every core-originated broadcast is delivered twice: once to the
// locally registered sockets, and once to a Redis channel so sibling
// processes can deliver it to theirs. Outbound Redis payloads carry a
// meta.source node id; the Bridge drops inbound payloads tagged with
// its own node so the originating process never echoes to itself.
package events

import "github.com/google/uuid"

// Server→client frame kinds (the envelope "type" field).
const (
	FrameConnected           = "connected"
	FrameSubscribed          = "subscribed"
	FrameChatMessage         = "chat_message"
	FrameNewUserMessage      = "new_user_message"
	FrameActivityUpdate      = "activity_update"
	FrameAnalyticsUpdate     = "analytics_update"
	FrameWebhookStatusUpdate = "webhook_status_update"
	FrameInitialData         = "initial_data"
	FramePong                = "pong"
	FrameError               = "error"
)

// Subscription channels. The broadcast channel name for each fan-out
// kind equals its frame kind, so a subscriber to ChannelChatMessage
// receives frames whose type is "chat_message", and so on.
const (
	ChannelChatMessage    = FrameChatMessage
	ChannelNewUserMessage = FrameNewUserMessage
	ChannelAnalytics      = FrameAnalyticsUpdate
	ChannelActivities     = FrameActivityUpdate
	ChannelWebhookStatus  = FrameWebhookStatusUpdate
)

// Client→server control frame types.
const (
	ControlPing                  = "ping"
	ControlSubscribeAnalytics    = "subscribe_analytics"
	ControlSubscribeActivities   = "subscribe_activities"
	ControlSubscribeWebhookState = "subscribe_webhook_status"
	ControlGetInitialData        = "get_initial_data"
)

// Redis channel topics. The full channel name is "ws:{topic}:{bot_id}".
const (
	TopicBot           = "bot"
	TopicAnalytics     = "analytics"
	TopicActivities    = "activities"
	TopicWebhookStatus = "webhook_status"
)

// redisPattern is what the Bridge PSubscribes to.
const redisPattern = "ws:*"

// RedisChannel returns the Redis pub/sub channel name for a topic and bot.
// Format: "ws:{topic}:{bot_id}"
func RedisChannel(topic string, botID uuid.UUID) string {
	return "ws:" + topic + ":" + botID.String()
}

// Meta carries cross-process routing fields. It rides only on Redis
// payloads and is stripped before local socket delivery.
type Meta struct {
	Source string `json:"source"`
}

// Envelope is the JSON structure for every server→client frame and for
// the Redis payloads that mirror them.
type Envelope struct {
	Type       string `json:"type"`
	BotID      string `json:"bot_id,omitempty"`
	LineUserID string `json:"line_user_id,omitempty"`
	Data       any    `json:"data,omitempty"`
	Timestamp  string `json:"timestamp"`
	Meta       *Meta  `json:"meta,omitempty"`
}

// ClientMessage is the JSON structure for client→server control frames.
// BotID is required on dashboard sockets for the subscribe_* frames
// (a dashboard watches many bots); bot-scoped sockets may omit it.
// Timestamp is echoed back verbatim in pong frames.
type ClientMessage struct {
	Type      string `json:"type"`
	BotID     string `json:"bot_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// channelForFrame maps a fan-out frame kind to its subscription channel.
// Control and lifecycle kinds are not broadcastable and return "".
func channelForFrame(frameType string) string {
	switch frameType {
	case FrameChatMessage, FrameNewUserMessage, FrameActivityUpdate,
		FrameAnalyticsUpdate, FrameWebhookStatusUpdate:
		return frameType
	default:
		return ""
	}
}
