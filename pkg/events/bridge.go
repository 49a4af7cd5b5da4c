package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Bridge delivers broadcasts published by sibling processes to the local
// registry. It runs one receive loop over a PSubscribe on the ws:*
// pattern; payloads tagged with this process's own node id are dropped so
// a process never echoes its own broadcasts back to its sockets.
type Bridge struct {
	client   *redis.Client
	registry *Registry
	nodeID   string

	running atomic.Bool

	// cancelLoop and loopDone coordinate graceful shutdown of the receive loop.
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewBridge creates a Bridge. The Redis client is shared with the
// Publisher; the caller closes it after Stop.
func NewBridge(client *redis.Client, registry *Registry, nodeID string) *Bridge {
	return &Bridge{
		client:   client,
		registry: registry,
		nodeID:   nodeID,
	}
}

// Start establishes the pattern subscription and begins receiving. The
// initial subscribe is synchronous so a broken Redis surfaces at startup
// instead of as silent message loss.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return fmt.Errorf("bridge already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	b.loopDone = make(chan struct{})

	pubsub := b.client.PSubscribe(loopCtx, redisPattern)
	if _, err := pubsub.Receive(loopCtx); err != nil {
		_ = pubsub.Close()
		cancel()
		b.running.Store(false)
		return fmt.Errorf("failed to subscribe to %s: %w", redisPattern, err)
	}

	go func() {
		defer close(b.loopDone)
		b.receiveLoop(loopCtx, pubsub)
	}()

	slog.Info("WebSocket bridge started", "pattern", redisPattern, "node_id", b.nodeID)
	return nil
}

// Stop terminates the receive loop and waits for it to exit.
func (b *Bridge) Stop() {
	if !b.running.CompareAndSwap(true, false) {
		return
	}
	b.cancelLoop()
	<-b.loopDone
	slog.Info("WebSocket bridge stopped")
}

// receiveLoop consumes the pattern subscription until shutdown,
// re-subscribing with exponential backoff whenever it drops.
func (b *Bridge) receiveLoop(ctx context.Context, pubsub *redis.PubSub) {
	for {
		b.consume(ctx, pubsub)
		_ = pubsub.Close()

		if ctx.Err() != nil {
			return
		}

		pubsub = b.resubscribe(ctx)
		if pubsub == nil {
			return
		}
	}
}

// consume drains messages until the subscription closes or ctx is done.
func (b *Bridge) consume(ctx context.Context, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.deliver(msg.Channel, []byte(msg.Payload))
		}
	}
}

// resubscribe re-establishes the pattern subscription with exponential
// backoff. Returns nil when ctx is cancelled.
func (b *Bridge) resubscribe(ctx context.Context) *redis.PubSub {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		pubsub := b.client.PSubscribe(ctx, redisPattern)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			slog.Error("WebSocket bridge reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		slog.Info("WebSocket bridge resubscribed", "pattern", redisPattern)
		return pubsub
	}
}

// deliver routes one inbound Redis payload to local subscribers.
func (b *Bridge) deliver(channel string, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Warn("Dropping malformed bridge payload", "channel", channel, "error", err)
		return
	}

	// Our own broadcast coming back around.
	if env.Meta != nil && env.Meta.Source == b.nodeID {
		return
	}

	botID, err := uuid.Parse(env.BotID)
	if err != nil {
		slog.Warn("Dropping bridge payload without bot id",
			"channel", channel, "type", env.Type)
		return
	}

	local := channelForFrame(env.Type)
	if local == "" {
		slog.Warn("Dropping bridge payload with unknown type",
			"channel", channel, "type", env.Type)
		return
	}

	// meta rides only between processes.
	env.Meta = nil
	b.registry.Broadcast(botID, local, &env)
}
