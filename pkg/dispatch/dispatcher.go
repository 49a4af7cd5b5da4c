package dispatch

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/chatbridge/linecore/pkg/line"
	"github.com/chatbridge/linecore/pkg/logic"
	"github.com/chatbridge/linecore/pkg/models"
	"github.com/chatbridge/linecore/pkg/services"
)

// ChatBroadcaster receives one chat_message fan-out per persisted bot reply.
type ChatBroadcaster interface {
	PublishChatMessage(ctx context.Context, botID uuid.UUID, lineUserID string, data any)
}

// TokenGate enforces at most one reply-mode send per webhook invocation.
// All sends after the first spend of the gate use push-mode.
type TokenGate struct {
	used bool
}

// NewTokenGate returns a fresh gate for one webhook invocation.
func NewTokenGate() *TokenGate {
	return &TokenGate{}
}

// take marks the gate spent. The token counts as consumed on the attempt,
// whether or not the reply call succeeds.
func (g *TokenGate) take() bool {
	if g == nil || g.used {
		return false
	}
	g.used = true
	return true
}

// Dispatcher delivers outbound messages, persists a conversation record for
// each successful send, and schedules the matching chat_message broadcast.
type Dispatcher struct {
	lineClient    *line.Client
	conversations *services.ConversationService
	broadcaster   ChatBroadcaster
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(lineClient *line.Client, conversations *services.ConversationService, broadcaster ChatBroadcaster) *Dispatcher {
	return &Dispatcher{
		lineClient:    lineClient,
		conversations: conversations,
		broadcaster:   broadcaster,
	}
}

// Dispatch sends replies in order. The first send with an available reply
// token and an unspent gate goes reply-mode; everything else pushes to the
// user. A failed send is logged and skipped, never persisted, and later
// replies still go out. Returns how many sends succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, bot *models.Bot, lineUserID, replyToken string, gate *TokenGate, replies []logic.Reply) int {
	sent := 0
	for _, r := range replies {
		mode := "push"
		var err error
		if replyToken != "" && gate.take() {
			mode = "reply"
			err = d.lineClient.ReplyMessage(ctx, bot.ChannelToken, replyToken, []line.Message{r.Payload})
		} else {
			err = d.lineClient.PushMessage(ctx, bot.ChannelToken, lineUserID, []line.Message{r.Payload})
		}
		if err != nil {
			slog.Error("Send failed",
				"bot_id", bot.ID, "line_user_id", lineUserID, "mode", mode,
				"message_type", r.Type, "error", err)
			continue
		}
		sent++

		d.record(ctx, bot, lineUserID, r)
	}
	return sent
}

// record persists the sent reply and broadcasts it. The message went out
// either way, so failures here are logged and absorbed.
func (d *Dispatcher) record(ctx context.Context, bot *models.Bot, lineUserID string, r logic.Reply) {
	in := models.AppendBotMessageInput{
		BotID:       bot.ID,
		LineUserID:  lineUserID,
		MessageType: r.Type,
		Content:     r.Content,
	}
	if r.MediaURL != "" {
		mediaURL := r.MediaURL
		in.MediaURL = &mediaURL
	}

	msg, err := d.conversations.AppendBotMessage(ctx, in)
	if err != nil {
		slog.Error("Failed to record bot message",
			"bot_id", bot.ID, "line_user_id", lineUserID, "message_type", r.Type, "error", err)
		return
	}

	if d.broadcaster != nil {
		d.broadcaster.PublishChatMessage(ctx, bot.ID, lineUserID, msg)
	}
}
