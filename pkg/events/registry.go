package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/chatbridge/linecore/pkg/models"
)

// defaultWriteTimeout bounds a single WebSocket send when the caller does
// not configure one. A slow reader can stall a write for at most this long.
const defaultWriteTimeout = 10 * time.Second

// lookupTimeout bounds the DB lookups triggered by control frames so a
// stalled pool cannot block the connection's read loop indefinitely.
const lookupTimeout = 10 * time.Second

// BotDirectory answers the identity and ownership questions raised by
// socket control frames. Implemented by services.BotService.
type BotDirectory interface {
	GetBot(ctx context.Context, botID uuid.UUID) (*models.Bot, error)
	OwnsBot(ctx context.Context, botID uuid.UUID, ownerID string) (bool, error)
	ListBotsByOwner(ctx context.Context, ownerID string) ([]*models.Bot, error)
}

// subKey identifies one per-bot broadcast channel.
type subKey struct {
	botID   uuid.UUID
	channel string
}

// Registry manages WebSocket connections and per-(bot, channel)
// subscriptions. Each process has one Registry instance; the registry is
// strictly process-local and cross-process delivery goes through the
// Redis bridge, never through shared registry state.
type Registry struct {
	bots BotDirectory

	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Channel subscriptions: (bot, channel) → set of connection_ids
	channels  map[subKey]map[string]bool
	channelMu sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed WITHOUT a lock. This is safe because all reads
// and writes (subscribe, unsubscribe, unregisterConnection) happen on the
// single goroutine that owns this connection (the handle method's read loop
// and its deferred cleanup). If a Connection is ever mutated from a
// different goroutine (e.g. an admin "kick" feature), subscriptions must be
// protected by a mutex.
type Connection struct {
	ID     string
	Conn   *websocket.Conn
	UserID string

	// botID is the bound bot for bot-scoped sockets, uuid.Nil for
	// dashboard sockets.
	botID uuid.UUID

	subscriptions map[subKey]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewRegistry creates a new Registry. A non-positive writeTimeout falls
// back to the built-in default.
func NewRegistry(bots BotDirectory, writeTimeout time.Duration) *Registry {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Registry{
		bots:         bots,
		connections:  make(map[string]*Connection),
		channels:     make(map[subKey]map[string]bool),
		writeTimeout: writeTimeout,
	}
}

// HandleBotConnection manages the lifecycle of a bot-scoped socket.
// Called by the WebSocket HTTP handler after upgrade, with the handshake
// token and bot ownership already verified. Blocks until the connection
// closes.
func (r *Registry) HandleBotConnection(parentCtx context.Context, conn *websocket.Conn, bot *models.Bot, userID string) {
	c := r.newConnection(parentCtx, conn, bot.ID, userID)

	r.registerConnection(c)
	defer r.unregisterConnection(c)

	// An operator watching one bot always wants its chat stream; the
	// analytics, activity and webhook-status channels are opt-in.
	r.subscribe(c, bot.ID, ChannelChatMessage)
	r.subscribe(c, bot.ID, ChannelNewUserMessage)

	r.sendEnvelope(c, &Envelope{
		Type:      FrameConnected,
		BotID:     bot.ID.String(),
		Data:      map[string]string{"connection_id": c.ID},
		Timestamp: nowISO8601(),
	})

	r.readLoop(c)
}

// HandleDashboardConnection manages the lifecycle of a dashboard socket
// watching all of one user's bots. Blocks until the connection closes.
func (r *Registry) HandleDashboardConnection(parentCtx context.Context, conn *websocket.Conn, userID string) {
	c := r.newConnection(parentCtx, conn, uuid.Nil, userID)

	r.registerConnection(c)
	defer r.unregisterConnection(c)

	// Dashboards get the new-conversation stream for every owned bot up
	// front; everything else is opt-in via subscribe_* frames carrying a
	// bot_id.
	listCtx, cancel := context.WithTimeout(c.ctx, lookupTimeout)
	bots, err := r.bots.ListBotsByOwner(listCtx, userID)
	cancel()
	if err != nil {
		slog.Warn("Dashboard socket bot list failed, starting without subscriptions",
			"connection_id", c.ID, "user_id", userID, "error", err)
	}
	for _, b := range bots {
		r.subscribe(c, b.ID, ChannelNewUserMessage)
	}

	r.sendEnvelope(c, &Envelope{
		Type:      FrameConnected,
		Data:      map[string]string{"connection_id": c.ID},
		Timestamp: nowISO8601(),
	})

	r.readLoop(c)
}

// Broadcast marshals an envelope and sends it to every connection
// subscribed to the given (bot, channel) pair.
func (r *Registry) Broadcast(botID uuid.UUID, channel string, env *Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		slog.Warn("Failed to marshal broadcast envelope",
			"bot_id", botID, "channel", channel, "error", err)
		return
	}
	r.broadcastRaw(subKey{botID: botID, channel: channel}, frame)
}

// ActiveConnections returns the count of active WebSocket connections.
func (r *Registry) ActiveConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// subscriberCount returns the number of subscribers for a (bot, channel)
// pair. Tests poll it instead of sleeping.
func (r *Registry) subscriberCount(botID uuid.UUID, channel string) int {
	r.channelMu.RLock()
	defer r.channelMu.RUnlock()
	return len(r.channels[subKey{botID: botID, channel: channel}])
}

func (r *Registry) newConnection(parentCtx context.Context, conn *websocket.Conn, botID uuid.UUID, userID string) *Connection {
	ctx, cancel := context.WithCancel(parentCtx)
	return &Connection{
		ID:            uuid.New().String(),
		Conn:          conn,
		UserID:        userID,
		botID:         botID,
		subscriptions: make(map[subKey]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// readLoop processes client control frames until the connection closes.
func (r *Registry) readLoop(c *Connection) {
	for {
		_, data, err := c.Conn.Read(c.ctx)
		if err != nil {
			// Connection closed or errored
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket control frame",
				"connection_id", c.ID, "error", err)
			continue
		}

		r.handleClientMessage(c, &msg)
	}
}

// handleClientMessage dispatches a control frame to the appropriate
// handler. Unknown frame types get an error frame back; the socket
// stays open.
func (r *Registry) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Type {
	case ControlPing:
		r.sendEnvelope(c, &Envelope{
			Type:      FramePong,
			Data:      map[string]string{"timestamp": msg.Timestamp},
			Timestamp: nowISO8601(),
		})

	case ControlSubscribeAnalytics:
		r.handleSubscribe(c, msg, ChannelAnalytics)

	case ControlSubscribeActivities:
		r.handleSubscribe(c, msg, ChannelActivities)

	case ControlSubscribeWebhookState:
		r.handleSubscribe(c, msg, ChannelWebhookStatus)

	case ControlGetInitialData:
		r.handleInitialData(c)

	default:
		r.sendError(c, fmt.Sprintf("unknown control frame type %q", msg.Type))
	}
}

// handleSubscribe resolves the target bot for a subscribe_* frame and adds
// the connection to the channel. Bot-scoped sockets always subscribe on
// their bound bot; dashboard sockets must name an owned bot.
func (r *Registry) handleSubscribe(c *Connection, msg *ClientMessage, channel string) {
	botID := c.botID
	if botID == uuid.Nil {
		parsed, err := uuid.Parse(msg.BotID)
		if err != nil {
			r.sendError(c, "bot_id is required to subscribe")
			return
		}

		checkCtx, cancel := context.WithTimeout(c.ctx, lookupTimeout)
		owns, err := r.bots.OwnsBot(checkCtx, parsed, c.UserID)
		cancel()
		if err != nil {
			slog.Error("Subscription ownership check failed",
				"connection_id", c.ID, "bot_id", parsed, "error", err)
			r.sendError(c, "failed to verify bot ownership")
			return
		}
		if !owns {
			r.sendError(c, "bot not found")
			return
		}
		botID = parsed
	}

	r.subscribe(c, botID, channel)
	r.sendEnvelope(c, &Envelope{
		Type:      FrameSubscribed,
		BotID:     botID.String(),
		Data:      map[string]string{"channel": channel},
		Timestamp: nowISO8601(),
	})
}

// handleInitialData answers a get_initial_data frame with bot identity and
// configured-ness: the bound bot for bot-scoped sockets, every owned bot
// for dashboard sockets.
func (r *Registry) handleInitialData(c *Connection) {
	ctx, cancel := context.WithTimeout(c.ctx, lookupTimeout)
	defer cancel()

	if c.botID != uuid.Nil {
		bot, err := r.bots.GetBot(ctx, c.botID)
		if err != nil {
			slog.Error("Initial data bot lookup failed",
				"connection_id", c.ID, "bot_id", c.botID, "error", err)
			r.sendError(c, "failed to load initial data")
			return
		}
		r.sendEnvelope(c, &Envelope{
			Type:      FrameInitialData,
			BotID:     bot.ID.String(),
			Data:      map[string]any{"bot": botSummary(bot)},
			Timestamp: nowISO8601(),
		})
		return
	}

	bots, err := r.bots.ListBotsByOwner(ctx, c.UserID)
	if err != nil {
		slog.Error("Initial data bot list failed",
			"connection_id", c.ID, "user_id", c.UserID, "error", err)
		r.sendError(c, "failed to load initial data")
		return
	}
	summaries := make([]map[string]any, 0, len(bots))
	for _, b := range bots {
		summaries = append(summaries, botSummary(b))
	}
	r.sendEnvelope(c, &Envelope{
		Type:      FrameInitialData,
		Data:      map[string]any{"bots": summaries},
		Timestamp: nowISO8601(),
	})
}

func botSummary(b *models.Bot) map[string]any {
	return map[string]any{
		"id":            b.ID.String(),
		"name":          b.Name,
		"is_configured": b.IsConfigured(),
	}
}

// subscribe registers a connection for a (bot, channel) pair.
func (r *Registry) subscribe(c *Connection, botID uuid.UUID, channel string) {
	key := subKey{botID: botID, channel: channel}

	r.channelMu.Lock()
	if _, exists := r.channels[key]; !exists {
		r.channels[key] = make(map[string]bool)
	}
	r.channels[key][c.ID] = true
	r.channelMu.Unlock()

	c.subscriptions[key] = true
}

// unsubscribe removes a connection from a (bot, channel) pair and drops the
// channel entry once the last subscriber leaves.
func (r *Registry) unsubscribe(c *Connection, key subKey) {
	r.channelMu.Lock()
	if subs, exists := r.channels[key]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(r.channels, key)
		}
	}
	r.channelMu.Unlock()

	delete(c.subscriptions, key)
}

// broadcastRaw sends a pre-marshaled frame to all subscribers of a key.
func (r *Registry) broadcastRaw(key subKey, frame []byte) {
	r.channelMu.RLock()
	connIDs, exists := r.channels[key]
	if !exists {
		r.channelMu.RUnlock()
		return
	}
	// Copy IDs to avoid holding the lock during sends
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	r.channelMu.RUnlock()

	// Snapshot connection pointers under the lock, then release before
	// sending. Holding mu.RLock during potentially slow writes (up to
	// writeTimeout per connection) would stall register/unregister.
	r.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := r.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := r.sendRaw(conn, frame); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", conn.ID, "error", err)
		}
	}
}

// registerConnection adds a connection to the tracking map.
func (r *Registry) registerConnection(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[c.ID] = c
}

// unregisterConnection removes a connection and all its subscriptions.
func (r *Registry) unregisterConnection(c *Connection) {
	for key := range c.subscriptions {
		r.unsubscribe(c, key)
	}

	r.mu.Lock()
	delete(r.connections, c.ID)
	r.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// sendEnvelope marshals and sends one envelope to a single connection.
func (r *Registry) sendEnvelope(c *Connection, env *Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket frame",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := r.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket frame",
			"connection_id", c.ID, "error", err)
	}
}

// sendError sends an error frame; the socket stays open.
func (r *Registry) sendError(c *Connection, message string) {
	r.sendEnvelope(c, &Envelope{
		Type:      FrameError,
		Data:      map[string]string{"message": message},
		Timestamp: nowISO8601(),
	})
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (r *Registry) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, r.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}

// nowISO8601 formats the current UTC time for envelope timestamps.
func nowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339)
}
