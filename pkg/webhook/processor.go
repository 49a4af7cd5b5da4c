// Package webhook orchestrates the event-reaction pipeline that runs for
// every inbound LINE webhook: signature verification, dedup via the
// conversation store, async media ingestion, logic-template matching, the
// AI fallback, and dashboard broadcasts.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/chatbridge/linecore/pkg/dispatch"
	"github.com/chatbridge/linecore/pkg/events"
	"github.com/chatbridge/linecore/pkg/line"
	"github.com/chatbridge/linecore/pkg/llm"
	"github.com/chatbridge/linecore/pkg/logic"
	"github.com/chatbridge/linecore/pkg/media"
	"github.com/chatbridge/linecore/pkg/models"
	"github.com/chatbridge/linecore/pkg/retrieval"
	"github.com/chatbridge/linecore/pkg/services"
)

// Auth-stage failures. Everything after authentication is logged and
// answered 200 so LINE does not retry deliveries we cannot use.
var (
	// ErrBotNotFound means the webhook path names an unregistered bot (404).
	ErrBotNotFound = errors.New("bot not found")

	// ErrBotNotConfigured means the bot has no channel credentials (400).
	ErrBotNotConfigured = errors.New("bot channel credentials not configured")

	// ErrInvalidSignature means the X-Line-Signature check failed (400).
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Deps bundles everything the Processor needs. Services are concrete; the
// Processor is the composition point of the pipeline.
type Deps struct {
	Bots          *services.BotService
	Conversations *services.ConversationService
	Templates     *services.TemplateService
	Line          *line.Client
	Media         *media.Pool
	Dispatcher    *dispatch.Dispatcher
	RAG           *retrieval.Engine
	Publisher     *events.Publisher
}

// Processor handles one webhook delivery end to end.
type Processor struct {
	publicBaseURL string
	deps          Deps
}

// NewProcessor creates a Processor. publicBaseURL is this deployment's
// externally reachable base, used to build the webhook URL reported by
// status checks.
func NewProcessor(publicBaseURL string, deps Deps) *Processor {
	return &Processor{
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		deps:          deps,
	}
}

// HandleWebhook runs the pipeline for one delivery. The returned error is
// one of the auth-stage sentinels above (mapped to 404/400 by the HTTP
// layer) or an internal bot-load failure; every post-auth condition is
// handled here and answered nil so the caller acks with 200.
func (p *Processor) HandleWebhook(ctx context.Context, botID uuid.UUID, body []byte, signature string) error {
	bot, err := p.deps.Bots.GetBot(ctx, botID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return ErrBotNotFound
		}
		return fmt.Errorf("failed to load bot: %w", err)
	}
	if !bot.IsConfigured() {
		return ErrBotNotConfigured
	}

	// LINE probes with an empty body when the webhook URL is saved.
	if len(body) == 0 {
		return nil
	}

	if !line.VerifySignature(bot.ChannelSecret, body, signature) {
		return ErrInvalidSignature
	}

	payload, err := line.ParseWebhookPayload(body)
	if err != nil {
		// Authenticated but unparseable: ack so LINE stops retrying.
		slog.Warn("Ignoring unparseable webhook payload",
			"bot_id", botID, "error", err)
		return nil
	}

	// One reply-mode send per delivery, shared across its events.
	gate := dispatch.NewTokenGate()

	for i := range payload.Events {
		event := &payload.Events[i]
		if err := p.handleOne(ctx, bot, event, gate); err != nil {
			slog.Error("Webhook event handling failed",
				"bot_id", botID, "event_type", event.Type, "error", err)
		}
	}
	return nil
}

// handleOne routes a single event. Unsupported event types are ignored.
func (p *Processor) handleOne(ctx context.Context, bot *models.Bot, event *line.Event, gate *dispatch.TokenGate) error {
	switch event.Type {
	case line.EventTypeMessage:
		return p.handleMessage(ctx, bot, event, gate)
	case line.EventTypePostback:
		return p.handlePostback(ctx, bot, event, gate)
	case line.EventTypeFollow, line.EventTypeUnfollow:
		return p.handleLifecycle(ctx, bot, event, gate)
	default:
		slog.Debug("Ignoring unsupported webhook event",
			"bot_id", bot.ID, "event_type", event.Type)
		return nil
	}
}

// handleMessage runs the full pipeline for a user-source message event:
// append (dedup) → broadcasts → media spawn → logic → AI fallback.
func (p *Processor) handleMessage(ctx context.Context, bot *models.Bot, event *line.Event, gate *dispatch.TokenGate) error {
	lineUserID := userSource(event)
	if lineUserID == "" {
		slog.Debug("Skipping non-user message event",
			"bot_id", bot.ID, "source_type", event.Source.Type)
		return nil
	}

	msg, err := event.DecodeMessage()
	if err != nil {
		return fmt.Errorf("failed to decode message event: %w", err)
	}

	in := models.AppendUserMessageInput{
		BotID:       bot.ID,
		LineUserID:  lineUserID,
		EventType:   models.EventTypeMessage,
		MessageType: msg.Type,
		Content:     buildUserContent(msg),
	}
	if msg.ID != "" {
		in.LineMessageID = &msg.ID
	}

	saved, isNew, err := p.deps.Conversations.AppendUserMessage(ctx, in)
	if err != nil {
		return fmt.Errorf("failed to append user message: %w", err)
	}
	if !isNew {
		slog.Debug("Suppressed duplicate webhook delivery",
			"bot_id", bot.ID, "line_message_id", msg.ID)
		return nil
	}

	p.deps.Publisher.PublishChatMessage(ctx, bot.ID, lineUserID, saved)
	p.deps.Publisher.PublishNewUserMessage(ctx, bot.ID, lineUserID, msg.ID, saved)

	// Media content is fetched off the webhook path; on failure the
	// message keeps null media fields and the reprocess endpoint retries.
	switch msg.Type {
	case models.MessageTypeImage, models.MessageTypeVideo, models.MessageTypeAudio:
		p.deps.Media.Submit(media.Job{
			BotID:         bot.ID,
			MessageID:     saved.ID,
			LineMessageID: msg.ID,
			MessageType:   msg.Type,
			ChannelToken:  bot.ChannelToken,
		})
	}

	replies := p.evaluateTemplates(ctx, bot, event)
	if len(replies) > 0 {
		p.deps.Dispatcher.Dispatch(ctx, bot, lineUserID, event.ReplyToken, gate, replies)
	} else if bot.AITakeoverEnabled && msg.Type == models.MessageTypeText && strings.TrimSpace(msg.Text) != "" {
		p.answerWithAI(ctx, bot, lineUserID, event.ReplyToken, gate, msg.Text, saved.ID)
	}

	p.deps.Publisher.PublishActivity(ctx, bot.ID, activitySummary(saved, lineUserID))
	return nil
}

// handlePostback appends the tapped action and runs template matching.
// Postbacks never fall through to the AI.
func (p *Processor) handlePostback(ctx context.Context, bot *models.Bot, event *line.Event, gate *dispatch.TokenGate) error {
	lineUserID := userSource(event)
	if lineUserID == "" {
		return nil
	}

	content := models.JSONMap{}
	if event.Postback != nil {
		content["data"] = event.Postback.Data
		if len(event.Postback.Params) > 0 {
			content["params"] = event.Postback.Params
		}
	}

	in := models.AppendUserMessageInput{
		BotID:       bot.ID,
		LineUserID:  lineUserID,
		EventType:   models.EventTypePostback,
		MessageType: models.MessageTypePostback,
		Content:     content,
	}
	// Postbacks carry no message id; the webhook event id covers
	// redelivery dedup instead.
	if event.WebhookEventID != "" {
		in.LineMessageID = &event.WebhookEventID
	}

	saved, isNew, err := p.deps.Conversations.AppendUserMessage(ctx, in)
	if err != nil {
		return fmt.Errorf("failed to append postback: %w", err)
	}
	if !isNew {
		return nil
	}

	p.deps.Publisher.PublishChatMessage(ctx, bot.ID, lineUserID, saved)

	if replies := p.evaluateTemplates(ctx, bot, event); len(replies) > 0 {
		p.deps.Dispatcher.Dispatch(ctx, bot, lineUserID, event.ReplyToken, gate, replies)
	}

	p.deps.Publisher.PublishActivity(ctx, bot.ID, activitySummary(saved, lineUserID))
	return nil
}

// handleLifecycle appends a follow/unfollow marker and runs template
// matching (a follow template is the usual welcome flow). No AI fallback.
func (p *Processor) handleLifecycle(ctx context.Context, bot *models.Bot, event *line.Event, gate *dispatch.TokenGate) error {
	lineUserID := userSource(event)
	if lineUserID == "" {
		return nil
	}

	in := models.AppendUserMessageInput{
		BotID:       bot.ID,
		LineUserID:  lineUserID,
		EventType:   event.Type,
		MessageType: models.MessageTypeEvent,
		Content:     models.JSONMap{"event": event.Type},
	}
	if event.WebhookEventID != "" {
		in.LineMessageID = &event.WebhookEventID
	}

	saved, isNew, err := p.deps.Conversations.AppendUserMessage(ctx, in)
	if err != nil {
		return fmt.Errorf("failed to append %s event: %w", event.Type, err)
	}
	if !isNew {
		return nil
	}

	p.deps.Publisher.PublishChatMessage(ctx, bot.ID, lineUserID, saved)

	if replies := p.evaluateTemplates(ctx, bot, event); len(replies) > 0 {
		p.deps.Dispatcher.Dispatch(ctx, bot, lineUserID, event.ReplyToken, gate, replies)
	}

	p.deps.Publisher.PublishActivity(ctx, bot.ID, activitySummary(saved, lineUserID))
	return nil
}

// evaluateTemplates loads the bot's active templates and runs the logic
// engine over the event. Load failures degrade to "no match" so the AI
// fallback still gets its chance.
func (p *Processor) evaluateTemplates(ctx context.Context, bot *models.Bot, event *line.Event) []logic.Reply {
	templates, err := p.deps.Templates.ListActiveTemplates(ctx, bot.ID)
	if err != nil {
		slog.Error("Failed to load logic templates", "bot_id", bot.ID, "error", err)
		return nil
	}
	if len(templates) == 0 {
		return nil
	}

	return logic.Evaluate(logic.EvalInput{
		Templates:  templates,
		Event:      event,
		AITakeover: bot.AITakeoverEnabled,
		ResolveFlex: func(flexMessageID string) (models.JSONDoc, error) {
			flexID, err := uuid.Parse(flexMessageID)
			if err != nil {
				return nil, fmt.Errorf("invalid flex message id %q: %w", flexMessageID, err)
			}
			flex, err := p.deps.Templates.GetFlexMessage(ctx, flexID, bot.OwnerID)
			if err != nil {
				return nil, err
			}
			return flex.Content, nil
		},
	})
}

// answerWithAI runs the retrieval pipeline and sends the answer as one
// text message. Provider outages skip the reply; the webhook still acks.
func (p *Processor) answerWithAI(ctx context.Context, bot *models.Bot, lineUserID, replyToken string, gate *dispatch.TokenGate, question string, excludeID int64) {
	result, err := p.deps.RAG.Answer(ctx, retrieval.AnswerRequest{
		Bot:              bot,
		LineUserID:       lineUserID,
		Question:         question,
		ExcludeMessageID: excludeID,
	})
	if err != nil {
		if errors.Is(err, llm.ErrLLMUnavailable) {
			slog.Warn("AI reply skipped, provider unavailable", "bot_id", bot.ID)
			return
		}
		slog.Error("AI reply generation failed", "bot_id", bot.ID, "error", err)
		return
	}

	answer := strings.TrimSpace(result.Answer)
	if answer == "" {
		return
	}

	p.deps.Dispatcher.Dispatch(ctx, bot, lineUserID, replyToken, gate, []logic.Reply{{
		Payload: line.NewTextMessage(answer),
		Type:    models.MessageTypeText,
		Content: models.JSONMap{"text": answer},
	}})
}

// userSource returns the LINE user id for user-source events, "" otherwise.
// Group and room chats are out of scope for the reaction pipeline.
func userSource(event *line.Event) string {
	if event.Source.Type != "" && event.Source.Type != "user" {
		return ""
	}
	return event.Source.UserID
}

// buildUserContent maps decoded LINE message content to the stored shape.
func buildUserContent(msg *line.MessageContent) models.JSONMap {
	switch msg.Type {
	case models.MessageTypeText:
		return models.JSONMap{"text": msg.Text}
	case models.MessageTypeSticker:
		return models.JSONMap{
			"package_id": msg.PackageID,
			"sticker_id": msg.StickerID,
		}
	case models.MessageTypeLocation:
		content := models.JSONMap{
			"latitude":  msg.Latitude,
			"longitude": msg.Longitude,
		}
		if msg.Title != "" {
			content["title"] = msg.Title
		}
		if msg.Address != "" {
			content["address"] = msg.Address
		}
		return content
	case models.MessageTypeFile:
		return models.JSONMap{
			"file_name": msg.FileName,
			"file_size": msg.FileSize,
		}
	case models.MessageTypeVideo, models.MessageTypeAudio:
		content := models.JSONMap{}
		if msg.Duration > 0 {
			content["duration"] = msg.Duration
		}
		return content
	default:
		return models.JSONMap{}
	}
}

// activitySummary is the data payload for activity_update broadcasts.
func activitySummary(saved *models.Message, lineUserID string) map[string]any {
	return map[string]any{
		"message_id":   saved.ID,
		"line_user_id": lineUserID,
		"event_type":   saved.EventType,
		"message_type": saved.MessageType,
	}
}
