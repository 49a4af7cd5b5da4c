package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatbridge/linecore/pkg/database"
	"github.com/chatbridge/linecore/pkg/models"
)

// Paging bounds for dashboard reads.
const (
	defaultMessageLimit      = 50
	maxMessageLimit          = 200
	defaultConversationLimit = 20
	maxConversationLimit     = 100
)

// mediaFetchTypes are the message types the content endpoint serves.
var mediaFetchTypes = []string{
	models.MessageTypeImage, models.MessageTypeVideo, models.MessageTypeAudio,
}

var conversationColumns = []any{
	"id", "bot_id", "line_user_id", "created_at", "last_message_at",
}

var messageColumns = []any{
	"id", "conversation_id", "bot_id", "line_message_id", "event_type",
	"message_type", "content", "sender_type", "admin_user", "media_url",
	"media_path", "created_at",
}

// ConversationService is the single source of truth for conversations and
// messages. Appends are linearized by the store: the partial unique index on
// (bot_id, line_message_id) makes the dedup check and the insert one atomic
// step.
type ConversationService struct {
	pool *pgxpool.Pool
}

// NewConversationService creates a new ConversationService
func NewConversationService(db *database.Client) *ConversationService {
	return &ConversationService{pool: db.Pool()}
}

// GetOrCreate returns the conversation for (bot, LINE user), creating it on
// first contact. Creation races resolve through the unique constraint.
func (s *ConversationService) GetOrCreate(httpCtx context.Context, botID uuid.UUID, lineUserID string) (*models.Conversation, error) {
	if lineUserID == "" {
		return nil, NewValidationError("line_user_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	existing, err := s.findConversation(ctx, botID, lineUserID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	query, args, err := database.Goqu.Insert("conversations").
		Rows(goqu.Record{"bot_id": botID, "line_user_id": lineUserID}).
		Returning(conversationColumns...).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build conversation insert: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	conv, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[models.Conversation])
	if err != nil {
		if IsUniqueViolation(err) {
			// Race: another webhook created the conversation first
			existing, queryErr := s.findConversation(ctx, botID, lineUserID)
			if queryErr != nil {
				return nil, fmt.Errorf("failed to query conversation after constraint error: %w", queryErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	return conv, nil
}

// AppendUserMessage persists one inbound event as a user message. The insert
// itself is the dedup check: a unique violation on (bot_id, line_message_id)
// means the event is a redelivery, and the stored message is returned with
// isNew=false.
func (s *ConversationService) AppendUserMessage(httpCtx context.Context, in models.AppendUserMessageInput) (*models.Message, bool, error) {
	if in.LineUserID == "" {
		return nil, false, NewValidationError("line_user_id", "required")
	}
	if in.MessageType == "" {
		return nil, false, NewValidationError("message_type", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	conv, err := s.GetOrCreate(ctx, in.BotID, in.LineUserID)
	if err != nil {
		return nil, false, err
	}

	eventType := in.EventType
	if eventType == "" {
		eventType = models.EventTypeMessage
	}
	content := in.Content
	if content == nil {
		content = models.JSONMap{}
	}

	msg, err := s.insertMessage(ctx, conv.ID, goqu.Record{
		"conversation_id": conv.ID,
		"bot_id":          in.BotID,
		"line_message_id": in.LineMessageID,
		"event_type":      eventType,
		"message_type":    in.MessageType,
		"content":         content,
		"sender_type":     models.SenderUser,
	})
	if err != nil {
		if IsUniqueViolation(err) && in.LineMessageID != nil {
			existing, queryErr := s.findByLineMessageID(ctx, in.BotID, *in.LineMessageID)
			if queryErr != nil {
				return nil, false, fmt.Errorf("failed to query message after constraint error: %w", queryErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to append user message: %w", err)
	}

	return msg, true, nil
}

// AppendBotMessage persists one outbound reply the dispatcher actually sent.
func (s *ConversationService) AppendBotMessage(httpCtx context.Context, in models.AppendBotMessageInput) (*models.Message, error) {
	if in.LineUserID == "" {
		return nil, NewValidationError("line_user_id", "required")
	}
	if in.MessageType == "" {
		return nil, NewValidationError("message_type", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	conv, err := s.GetOrCreate(ctx, in.BotID, in.LineUserID)
	if err != nil {
		return nil, err
	}

	content := in.Content
	if content == nil {
		content = models.JSONMap{}
	}

	msg, err := s.insertMessage(ctx, conv.ID, goqu.Record{
		"conversation_id": conv.ID,
		"bot_id":          in.BotID,
		"event_type":      models.EventTypeMessage,
		"message_type":    in.MessageType,
		"content":         content,
		"sender_type":     models.SenderBot,
		"media_url":       in.MediaURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append bot message: %w", err)
	}

	return msg, nil
}

// AppendAdminMessage persists an operator-sent message. The admin identity
// is required so dashboards can attribute it.
func (s *ConversationService) AppendAdminMessage(httpCtx context.Context, in models.AppendAdminMessageInput) (*models.Message, error) {
	if in.LineUserID == "" {
		return nil, NewValidationError("line_user_id", "required")
	}
	if in.Admin.ID == "" {
		return nil, NewValidationError("admin_user", "identity required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	conv, err := s.GetOrCreate(ctx, in.BotID, in.LineUserID)
	if err != nil {
		return nil, err
	}

	content := in.Content
	if content == nil {
		content = models.JSONMap{}
	}

	msg, err := s.insertMessage(ctx, conv.ID, goqu.Record{
		"conversation_id": conv.ID,
		"bot_id":          in.BotID,
		"event_type":      models.EventTypeMessage,
		"message_type":    models.MessageTypeText,
		"content":         content,
		"sender_type":     models.SenderAdmin,
		"admin_user":      in.Admin.AsMap(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append admin message: %w", err)
	}

	return msg, nil
}

// GetMessage returns one message by store ID.
func (s *ConversationService) GetMessage(httpCtx context.Context, messageID int64) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	query, args, err := database.Goqu.From("messages").
		Select(messageColumns...).
		Where(goqu.C("id").Eq(messageID)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build message query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	msg, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[models.Message])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return msg, nil
}

// PatchMedia sets both media fields on a message after a successful content
// fetch. Returns false without modifying anything when either field is
// already set, so a finished fetch is never overwritten.
func (s *ConversationService) PatchMedia(httpCtx context.Context, messageID int64, mediaPath, mediaURL string) (bool, error) {
	if mediaPath == "" || mediaURL == "" {
		return false, NewValidationError("media", "both media_path and media_url are required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	query, args, err := database.Goqu.Update("messages").
		Set(goqu.Record{"media_path": mediaPath, "media_url": mediaURL}).
		Where(
			goqu.C("id").Eq(messageID),
			goqu.C("media_path").IsNull(),
			goqu.C("media_url").IsNull(),
		).
		Prepared(true).ToSQL()
	if err != nil {
		return false, fmt.Errorf("failed to build media update: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to patch media: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ListMessages returns one page of a conversation in ascending
// (created_at, id) order, plus the unfiltered total.
func (s *ConversationService) ListMessages(httpCtx context.Context, botID uuid.UUID, lineUserID string, filters models.MessageFilters) (*models.MessagePage, error) {
	if lineUserID == "" {
		return nil, NewValidationError("line_user_id", "required")
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	page := &models.MessagePage{Messages: []*models.Message{}, Limit: limit, Offset: offset}

	conv, err := s.findConversation(ctx, botID, lineUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return page, nil
		}
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	conditions := []goqu.Expression{goqu.C("conversation_id").Eq(conv.ID)}
	if filters.SenderType != "" {
		conditions = append(conditions, goqu.C("sender_type").Eq(filters.SenderType))
	}

	countQuery, countArgs, err := database.Goqu.From("messages").
		Select(goqu.COUNT("*")).
		Where(conditions...).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build message count: %w", err)
	}
	if err := s.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	query, args, err := database.Goqu.From("messages").
		Select(messageColumns...).
		Where(conditions...).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		Limit(uint(limit)).
		Offset(uint(offset)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build message query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	messages, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[models.Message])
	if err != nil {
		return nil, fmt.Errorf("failed to scan messages: %w", err)
	}

	annotateLegacyMedia(messages)
	page.Messages = messages
	return page, nil
}

// RecentMessages returns the last n messages of a conversation in ascending
// order. The retrieval pipeline uses it to build the history transcript.
func (s *ConversationService) RecentMessages(httpCtx context.Context, botID uuid.UUID, lineUserID string, n int) ([]*models.Message, error) {
	if n <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	conv, err := s.findConversation(ctx, botID, lineUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	query, args, err := database.Goqu.From("messages").
		Select(messageColumns...).
		Where(goqu.C("conversation_id").Eq(conv.ID)).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Desc()).
		Limit(uint(n)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build history query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	messages, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[models.Message])
	if err != nil {
		return nil, fmt.Errorf("failed to scan history: %w", err)
	}

	// Newest-first from the index, oldest-first for the transcript.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListConversations returns one dashboard page of conversations with
// last-message previews, most recently active first.
func (s *ConversationService) ListConversations(httpCtx context.Context, botID uuid.UUID, limit, offset int, search string) (*models.ConversationPage, error) {
	if limit <= 0 {
		limit = defaultConversationLimit
	}
	if limit > maxConversationLimit {
		limit = maxConversationLimit
	}
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	conditions := []goqu.Expression{goqu.I("c.bot_id").Eq(botID)}
	if search != "" {
		conditions = append(conditions, goqu.I("c.line_user_id").ILike("%"+search+"%"))
	}

	page := &models.ConversationPage{Conversations: []*models.ConversationSummary{}, Limit: limit, Offset: offset}

	countQuery, countArgs, err := database.Goqu.From(goqu.T("conversations").As("c")).
		Select(goqu.COUNT("*")).
		Where(conditions...).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build conversation count: %w", err)
	}
	if err := s.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}

	lastMessage := database.Goqu.From(goqu.T("messages").As("m")).
		Where(goqu.I("m.conversation_id").Eq(goqu.I("c.id"))).
		Order(goqu.I("m.created_at").Desc(), goqu.I("m.id").Desc()).
		Limit(1)
	messageCount := database.Goqu.From(goqu.T("messages").As("mc")).
		Select(goqu.COUNT("*")).
		Where(goqu.I("mc.conversation_id").Eq(goqu.I("c.id")))

	query, args, err := database.Goqu.From(goqu.T("conversations").As("c")).
		Select(
			goqu.I("c.id"),
			goqu.I("c.bot_id"),
			goqu.I("c.line_user_id"),
			goqu.I("c.created_at"),
			goqu.I("c.last_message_at"),
			goqu.L("COALESCE(?, '')", lastMessage.Select(goqu.I("m.message_type"))).As("last_message_type"),
			goqu.L("COALESCE(?, '')", lastMessage.Select(goqu.L("COALESCE(m.content->>'text', '[' || m.message_type || ']')"))).As("last_message_preview"),
			goqu.L("?", messageCount).As("message_count"),
		).
		Where(conditions...).
		Order(goqu.I("c.last_message_at").Desc()).
		Limit(uint(limit)).
		Offset(uint(offset)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build conversation query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	summaries, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[models.ConversationSummary])
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversations: %w", err)
	}

	page.Conversations = summaries
	return page, nil
}

// Stats aggregates per-bot conversation and message volume for dashboards.
func (s *ConversationService) Stats(httpCtx context.Context, botID uuid.UUID) (*models.ConversationStats, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	stats := &models.ConversationStats{}

	convQuery, convArgs, err := database.Goqu.From("conversations").
		Select(goqu.COUNT("*")).
		Where(goqu.C("bot_id").Eq(botID)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build conversation stats: %w", err)
	}
	if err := s.pool.QueryRow(ctx, convQuery, convArgs...).Scan(&stats.Conversations); err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}

	msgQuery, msgArgs, err := database.Goqu.From("messages").
		Select(
			goqu.COUNT("*"),
			goqu.L("COUNT(*) FILTER (WHERE sender_type = ?)", models.SenderUser),
			goqu.L("COUNT(*) FILTER (WHERE sender_type = ?)", models.SenderBot),
			goqu.L("COUNT(*) FILTER (WHERE sender_type = ?)", models.SenderAdmin),
		).
		Where(goqu.C("bot_id").Eq(botID)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build message stats: %w", err)
	}
	if err := s.pool.QueryRow(ctx, msgQuery, msgArgs...).
		Scan(&stats.TotalMessages, &stats.UserMessages, &stats.BotMessages, &stats.AdminMessages); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	return stats, nil
}

// ListPendingMedia returns user media messages whose content was never
// fetched but still can be (line_message_id present). Feeds reprocessing.
func (s *ConversationService) ListPendingMedia(httpCtx context.Context, botID uuid.UUID, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	query, args, err := database.Goqu.From("messages").
		Select(messageColumns...).
		Where(
			goqu.C("bot_id").Eq(botID),
			goqu.C("sender_type").Eq(models.SenderUser),
			goqu.C("message_type").In(mediaFetchTypes),
			goqu.C("media_path").IsNull(),
			goqu.C("media_url").IsNull(),
			goqu.C("line_message_id").IsNotNull(),
		).
		Order(goqu.C("created_at").Asc()).
		Limit(uint(limit)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build pending media query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending media: %w", err)
	}
	messages, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[models.Message])
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending media: %w", err)
	}

	return messages, nil
}

// insertMessage appends one message and bumps the conversation's
// last_message_at in the same transaction.
func (s *ConversationService) insertMessage(ctx context.Context, conversationID uuid.UUID, record goqu.Record) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query, args, err := database.Goqu.Insert("messages").
		Rows(record).
		Returning(messageColumns...).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build message insert: %w", err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	msg, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[models.Message])
	if err != nil {
		return nil, err
	}

	touchQuery, touchArgs, err := database.Goqu.Update("conversations").
		Set(goqu.Record{"last_message_at": msg.CreatedAt}).
		Where(goqu.C("id").Eq(conversationID)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build conversation touch: %w", err)
	}
	if _, err := tx.Exec(ctx, touchQuery, touchArgs...); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

func (s *ConversationService) findConversation(ctx context.Context, botID uuid.UUID, lineUserID string) (*models.Conversation, error) {
	query, args, err := database.Goqu.From("conversations").
		Select(conversationColumns...).
		Where(goqu.C("bot_id").Eq(botID), goqu.C("line_user_id").Eq(lineUserID)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build conversation query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[models.Conversation])
}

func (s *ConversationService) findByLineMessageID(ctx context.Context, botID uuid.UUID, lineMessageID string) (*models.Message, error) {
	query, args, err := database.Goqu.From("messages").
		Select(messageColumns...).
		Where(goqu.C("bot_id").Eq(botID), goqu.C("line_message_id").Eq(lineMessageID)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build message query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	msg, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[models.Message])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

// annotateLegacyMedia marks media messages that predate content fetching.
// Without a line_message_id the content endpoint cannot be called again, so
// readers get a hint instead of a retry.
func annotateLegacyMedia(messages []*models.Message) {
	for _, m := range messages {
		if m.SenderType != models.SenderUser || !models.IsMediaType(m.MessageType) {
			continue
		}
		if m.MediaPath != nil || m.MediaURL != nil || m.LineMessageID != nil {
			continue
		}
		if m.Content == nil {
			m.Content = models.JSONMap{}
		}
		m.Content["legacy_media"] = true
	}
}
