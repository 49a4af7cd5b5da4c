// Package services contains business logic service layer implementations.
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

// botColumns lists every bots column in model order, shared by all reads.
var botColumns = []any{
	"id", "owner_id", "name", "channel_token", "channel_secret",
	"ai_takeover_enabled", "ai_provider", "ai_model", "ai_system_prompt",
	"ai_rag_threshold", "ai_rag_top_k", "ai_history_messages",
	"ai_search_mode", "ai_rerank_initial_k", "created_at", "updated_at",
}

// BotService reads registered bots and answers ownership questions.
type BotService struct {
	pool *pgxpool.Pool
}

// NewBotService creates a new BotService
func NewBotService(db *database.Client) *BotService {
	return &BotService{pool: db.Pool()}
}

// GetBot returns the bot with the given ID, including channel credentials.
func (s *BotService) GetBot(httpCtx context.Context, botID uuid.UUID) (*models.Bot, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	query, args, err := database.Goqu.From("bots").
		Select(botColumns...).
		Where(goqu.C("id").Eq(botID)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build bot query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bot: %w", err)
	}
	bot, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[models.Bot])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan bot: %w", err)
	}

	return bot, nil
}

// OwnsBot reports whether ownerID owns the bot. Used by the WebSocket
// fabric to gate bot-scoped sockets.
func (s *BotService) OwnsBot(httpCtx context.Context, botID uuid.UUID, ownerID string) (bool, error) {
	if ownerID == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	query, args, err := database.Goqu.From("bots").
		Select(goqu.COUNT("*")).
		Where(goqu.C("id").Eq(botID), goqu.C("owner_id").Eq(ownerID)).
		Prepared(true).ToSQL()
	if err != nil {
		return false, fmt.Errorf("failed to build ownership query: %w", err)
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check bot ownership: %w", err)
	}

	return count > 0, nil
}

// ListBotsByOwner returns the owner's bots, newest first. Dashboard sockets
// use it for their initial data frame.
func (s *BotService) ListBotsByOwner(httpCtx context.Context, ownerID string) ([]*models.Bot, error) {
	if ownerID == "" {
		return nil, NewValidationError("owner_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	query, args, err := database.Goqu.From("bots").
		Select(botColumns...).
		Where(goqu.C("owner_id").Eq(ownerID)).
		Order(goqu.C("created_at").Desc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build bots query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bots: %w", err)
	}
	bots, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[models.Bot])
	if err != nil {
		return nil, fmt.Errorf("failed to scan bots: %w", err)
	}

	return bots, nil
}
