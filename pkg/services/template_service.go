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

var templateColumns = []any{
	"id", "bot_id", "name", "is_active", "logic_blocks", "created_at", "updated_at",
}

var flexMessageColumns = []any{
	"id", "owner_id", "name", "content", "created_at", "updated_at",
}

// TemplateService reads logic templates and saved flex message designs for
// the logic engine.
type TemplateService struct {
	pool *pgxpool.Pool
}

// NewTemplateService creates a new TemplateService
func NewTemplateService(db *database.Client) *TemplateService {
	return &TemplateService{pool: db.Pool()}
}

// ListActiveTemplates returns the bot's active templates in matching order:
// most recently updated first, ties broken by id.
func (s *TemplateService) ListActiveTemplates(httpCtx context.Context, botID uuid.UUID) ([]*models.LogicTemplate, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	query, args, err := database.Goqu.From("logic_templates").
		Select(templateColumns...).
		Where(goqu.C("bot_id").Eq(botID), goqu.C("is_active").Eq("true")).
		Order(goqu.C("updated_at").Desc(), goqu.C("id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build template query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	templates, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[models.LogicTemplate])
	if err != nil {
		return nil, fmt.Errorf("failed to scan templates: %w", err)
	}

	return templates, nil
}

// GetFlexMessage returns a saved flex design, scoped to its owner so one
// tenant cannot reference another's designs.
func (s *TemplateService) GetFlexMessage(httpCtx context.Context, flexID uuid.UUID, ownerID string) (*models.FlexMessage, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	conditions := []goqu.Expression{goqu.C("id").Eq(flexID)}
	if ownerID != "" {
		conditions = append(conditions, goqu.C("owner_id").Eq(ownerID))
	}

	query, args, err := database.Goqu.From("flex_messages").
		Select(flexMessageColumns...).
		Where(conditions...).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build flex message query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flex message: %w", err)
	}
	flex, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[models.FlexMessage])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan flex message: %w", err)
	}

	return flex, nil
}
