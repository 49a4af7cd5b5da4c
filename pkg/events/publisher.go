package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// dedupCacheSize is the per-bot LRU capacity for new_user_message
// line_message_id suppression.
const dedupCacheSize = 1024

// Publisher is the typed entry point for every core-originated broadcast.
//
// Each publish is delivered to the local registry and, when Redis is
// configured, mirrored to the matching ws:{topic}:{bot_id} channel so
// sibling processes can deliver it to their sockets. Broadcasts are
// best-effort: failures are logged and never surfaced to the caller, so
// the webhook path cannot stall on a slow dashboard.
type Publisher struct {
	registry *Registry
	redis    *redis.Client // nil → process-local delivery only
	nodeID   string

	// seen holds one dedup cache per bot for new_user_message broadcasts.
	mu   sync.Mutex
	seen map[uuid.UUID]*lru.Cache[string, struct{}]
}

// NewPublisher creates a Publisher. redisClient may be nil, in which case
// broadcasts stay process-local. nodeID tags outbound Redis payloads so
// the bridge can drop this process's own echoes.
func NewPublisher(registry *Registry, redisClient *redis.Client, nodeID string) *Publisher {
	return &Publisher{
		registry: registry,
		redis:    redisClient,
		nodeID:   nodeID,
		seen:     make(map[uuid.UUID]*lru.Cache[string, struct{}]),
	}
}

// NodeID returns the identifier stamped on outbound Redis payloads.
func (p *Publisher) NodeID() string {
	return p.nodeID
}

// --- Typed public methods ---

// PublishChatMessage broadcasts one persisted conversation message to the
// bot's chat stream. The dispatcher calls this after every successful send
// and the webhook orchestrator calls it for inbound user messages.
func (p *Publisher) PublishChatMessage(ctx context.Context, botID uuid.UUID, lineUserID string, data any) {
	p.publish(ctx, TopicBot, botID, &Envelope{
		Type:       FrameChatMessage,
		BotID:      botID.String(),
		LineUserID: lineUserID,
		Data:       data,
		Timestamp:  nowISO8601(),
	})
}

// PublishNewUserMessage announces an inbound user message to dashboards.
// lineMessageID feeds the per-bot dedup cache: a duplicate id (a LINE
// redelivery racing across processes, or a client retry) is suppressed
// before any fan-out.
func (p *Publisher) PublishNewUserMessage(ctx context.Context, botID uuid.UUID, lineUserID, lineMessageID string, data any) {
	if lineMessageID != "" && p.alreadySeen(botID, lineMessageID) {
		slog.Debug("Suppressed duplicate new_user_message broadcast",
			"bot_id", botID, "line_message_id", lineMessageID)
		return
	}
	p.publish(ctx, TopicBot, botID, &Envelope{
		Type:       FrameNewUserMessage,
		BotID:      botID.String(),
		LineUserID: lineUserID,
		Data:       data,
		Timestamp:  nowISO8601(),
	})
}

// PublishActivity broadcasts an activity_update summarizing one handled
// webhook event.
func (p *Publisher) PublishActivity(ctx context.Context, botID uuid.UUID, data any) {
	p.publish(ctx, TopicActivities, botID, &Envelope{
		Type:      FrameActivityUpdate,
		BotID:     botID.String(),
		Data:      data,
		Timestamp: nowISO8601(),
	})
}

// PublishAnalytics broadcasts an analytics_update to subscribed sockets.
func (p *Publisher) PublishAnalytics(ctx context.Context, botID uuid.UUID, data any) {
	p.publish(ctx, TopicAnalytics, botID, &Envelope{
		Type:      FrameAnalyticsUpdate,
		BotID:     botID.String(),
		Data:      data,
		Timestamp: nowISO8601(),
	})
}

// PublishWebhookStatus broadcasts a webhook_status_update after a status
// check.
func (p *Publisher) PublishWebhookStatus(ctx context.Context, botID uuid.UUID, data any) {
	p.publish(ctx, TopicWebhookStatus, botID, &Envelope{
		Type:      FrameWebhookStatusUpdate,
		BotID:     botID.String(),
		Data:      data,
		Timestamp: nowISO8601(),
	})
}

// --- Internal core ---

// publish delivers the envelope to local subscribers, then mirrors it to
// Redis with this process's node id attached.
func (p *Publisher) publish(ctx context.Context, topic string, botID uuid.UUID, env *Envelope) {
	p.registry.Broadcast(botID, channelForFrame(env.Type), env)

	if p.redis == nil {
		return
	}

	tagged := *env
	tagged.Meta = &Meta{Source: p.nodeID}
	payload, err := json.Marshal(&tagged)
	if err != nil {
		slog.Warn("Failed to marshal Redis broadcast payload",
			"type", env.Type, "bot_id", env.BotID, "error", err)
		return
	}
	if err := p.redis.Publish(ctx, RedisChannel(topic, botID), payload).Err(); err != nil {
		slog.Warn("Failed to publish broadcast to Redis",
			"type", env.Type, "bot_id", env.BotID, "error", err)
	}
}

// alreadySeen records lineMessageID in the bot's dedup cache and reports
// whether it was present already.
func (p *Publisher) alreadySeen(botID uuid.UUID, lineMessageID string) bool {
	p.mu.Lock()
	cache, ok := p.seen[botID]
	if !ok {
		cache, _ = lru.New[string, struct{}](dedupCacheSize)
		p.seen[botID] = cache
	}
	p.mu.Unlock()

	present, _ := cache.ContainsOrAdd(lineMessageID, struct{}{})
	return present
}
