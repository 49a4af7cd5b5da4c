package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/chatbridge/linecore/pkg/database"
	"github.com/chatbridge/linecore/pkg/models"
)

// defaultSummaryLimit caps how many document summaries feed the intent
// classifier prompt.
const defaultSummaryLimit = 10

var documentColumns = []any{
	"id", "bot_id", "source_type", "title", "original_file_name",
	"object_path", "ai_summary", "meta", "deleted_at", "created_at",
}

// KnowledgeService stores embedded document chunks and answers vector and
// lexical searches over them. Searches never surface chunks whose document
// is tombstoned.
type KnowledgeService struct {
	pool *pgxpool.Pool

	// invalidate, when set, is called after a soft delete or chunk
	// replacement so advisory retrieval caches drop rows for the
	// affected scope.
	invalidate func(botID *uuid.UUID)
}

// NewKnowledgeService creates a new KnowledgeService
func NewKnowledgeService(db *database.Client) *KnowledgeService {
	return &KnowledgeService{pool: db.Pool()}
}

// SetInvalidationHook registers the cache invalidation callback.
func (s *KnowledgeService) SetInvalidationHook(fn func(botID *uuid.UUID)) {
	s.invalidate = fn
}

// CleanEmbedding replaces NaN and Inf components with 0.0 and returns a new
// slice. Vector stores reject non-finite floats, and similarity against them
// is meaningless anyway.
func CleanEmbedding(embedding []float32) []float32 {
	cleaned := make([]float32, len(embedding))
	for i, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			cleaned[i] = 0.0
			continue
		}
		cleaned[i] = v
	}
	return cleaned
}

// UpsertDocument creates a document, or replaces the metadata of an existing
// one when the input carries an ID.
func (s *KnowledgeService) UpsertDocument(httpCtx context.Context, in models.UpsertDocumentInput) (*models.KnowledgeDocument, error) {
	if in.Title == "" {
		return nil, NewValidationError("title", "required")
	}
	sourceType := in.SourceType
	if sourceType == "" {
		sourceType = "upload"
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	record := goqu.Record{
		"bot_id":             in.BotID,
		"source_type":        sourceType,
		"title":              in.Title,
		"original_file_name": in.OriginalFileName,
		"object_path":        in.ObjectPath,
		"ai_summary":         in.AISummary,
		"meta":               in.Meta,
	}

	ds := database.Goqu.Insert("knowledge_documents")
	if in.ID != nil {
		record["id"] = *in.ID
		ds = ds.OnConflict(goqu.DoUpdate("id", goqu.Record{
			"bot_id":             goqu.L("EXCLUDED.bot_id"),
			"source_type":        goqu.L("EXCLUDED.source_type"),
			"title":              goqu.L("EXCLUDED.title"),
			"original_file_name": goqu.L("EXCLUDED.original_file_name"),
			"object_path":        goqu.L("EXCLUDED.object_path"),
			"ai_summary":         goqu.L("EXCLUDED.ai_summary"),
			"meta":               goqu.L("EXCLUDED.meta"),
		}))
	}

	query, args, err := ds.Rows(record).
		Returning(documentColumns...).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build document upsert: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert document: %w", err)
	}
	doc, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[models.KnowledgeDocument])
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	return doc, nil
}

// GetDocument returns one document by ID, tombstoned or not.
func (s *KnowledgeService) GetDocument(httpCtx context.Context, docID uuid.UUID) (*models.KnowledgeDocument, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	query, args, err := database.Goqu.From("knowledge_documents").
		Select(documentColumns...).
		Where(goqu.C("id").Eq(docID)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build document query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	doc, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[models.KnowledgeDocument])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	return doc, nil
}

// UpsertChunks replaces the chunks of a document. Embeddings must be exactly
// 768-dimensional; non-finite components are zeroed. Returns the number of
// chunks stored.
func (s *KnowledgeService) UpsertChunks(httpCtx context.Context, docID uuid.UUID, botID *uuid.UUID, chunks []models.ChunkInput) (int, error) {
	if len(chunks) == 0 {
		return 0, NewValidationError("chunks", "at least one chunk required")
	}

	records := make([]any, 0, len(chunks))
	for i, chunk := range chunks {
		if chunk.Content == "" {
			return 0, NewValidationError("content", fmt.Sprintf("chunk %d is empty", i))
		}
		if len(chunk.Embedding) != models.EmbeddingDimensions {
			return 0, NewValidationError("embedding",
				fmt.Sprintf("chunk %d has %d dimensions, want %d", i, len(chunk.Embedding), models.EmbeddingDimensions))
		}

		meta := models.JSONMap{}
		for k, v := range chunk.Meta {
			meta[k] = v
		}
		meta["chunk_index"] = chunk.ChunkIndex

		records = append(records, goqu.Record{
			"document_id":          docID,
			"bot_id":               botID,
			"content":              chunk.Content,
			"embedding":            pgvector.NewVector(CleanEmbedding(chunk.Embedding)),
			"embedding_model":      chunk.EmbeddingModel,
			"embedding_dimensions": models.EmbeddingDimensions,
			"meta":                 meta,
		})
	}

	ctx, cancel := context.WithTimeout(httpCtx, 30*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	deleteQuery, deleteArgs, err := database.Goqu.Delete("knowledge_chunks").
		Where(goqu.C("document_id").Eq(docID)).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build chunk delete: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteQuery, deleteArgs...); err != nil {
		return 0, fmt.Errorf("failed to delete previous chunks: %w", err)
	}

	insertQuery, insertArgs, err := database.Goqu.Insert("knowledge_chunks").
		Rows(records...).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build chunk insert: %w", err)
	}
	if _, err := tx.Exec(ctx, insertQuery, insertArgs...); err != nil {
		return 0, fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit chunks: %w", err)
	}

	if s.invalidate != nil {
		s.invalidate(botID)
	}
	return len(records), nil
}

// SearchVector returns chunks visible to the bot whose cosine similarity to
// the query embedding meets the threshold, best first. Similarity is
// 1 - cosine distance.
func (s *KnowledgeService) SearchVector(httpCtx context.Context, botID uuid.UUID, queryEmbedding []float32, threshold float64, k int) ([]models.SearchResult, error) {
	if len(queryEmbedding) != models.EmbeddingDimensions {
		return nil, NewValidationError("embedding",
			fmt.Sprintf("query has %d dimensions, want %d", len(queryEmbedding), models.EmbeddingDimensions))
	}
	if k <= 0 {
		k = 5
	}

	ctx, cancel := context.WithTimeout(httpCtx, 10*time.Second)
	defer cancel()

	vec := pgvector.NewVector(CleanEmbedding(queryEmbedding))

	query, args, err := database.Goqu.From(goqu.T("knowledge_chunks").As("kc")).
		Join(goqu.T("knowledge_documents").As("kd"),
			goqu.On(goqu.I("kd.id").Eq(goqu.I("kc.document_id")))).
		Select(
			goqu.I("kc.id"),
			goqu.I("kc.document_id"),
			goqu.I("kc.content"),
			goqu.L("1 - (kc.embedding <=> ?)", vec).As("similarity"),
		).
		Where(
			goqu.Or(goqu.I("kc.bot_id").Eq(botID), goqu.I("kc.bot_id").IsNull()),
			goqu.I("kc.deleted_at").IsNull(),
			goqu.I("kd.deleted_at").IsNull(),
			goqu.I("kc.embedding").IsNotNull(),
			goqu.L("1 - (kc.embedding <=> ?)", vec).Gte(threshold),
		).
		Order(goqu.L("kc.embedding <=> ?", vec).Asc()).
		Limit(uint(k)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build vector search: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	defer rows.Close()

	results := make([]models.SearchResult, 0, k)
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Content, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		r.Score = r.Similarity
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}

	return results, nil
}

// SearchLexical returns chunks matching the query under Postgres full-text
// search, ranked by ts_rank_cd. The simple configuration keeps tokens
// language-neutral, which CJK content needs.
func (s *KnowledgeService) SearchLexical(httpCtx context.Context, botID uuid.UUID, query string, k int) ([]models.SearchResult, error) {
	if query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}

	ctx, cancel := context.WithTimeout(httpCtx, 10*time.Second)
	defer cancel()

	rank := goqu.L("ts_rank_cd(to_tsvector('simple', kc.content), plainto_tsquery('simple', ?))", query)

	sqlQuery, args, err := database.Goqu.From(goqu.T("knowledge_chunks").As("kc")).
		Join(goqu.T("knowledge_documents").As("kd"),
			goqu.On(goqu.I("kd.id").Eq(goqu.I("kc.document_id")))).
		Select(
			goqu.I("kc.id"),
			goqu.I("kc.document_id"),
			goqu.I("kc.content"),
			rank.As("score"),
		).
		Where(
			goqu.Or(goqu.I("kc.bot_id").Eq(botID), goqu.I("kc.bot_id").IsNull()),
			goqu.I("kc.deleted_at").IsNull(),
			goqu.I("kd.deleted_at").IsNull(),
			goqu.L("to_tsvector('simple', kc.content) @@ plainto_tsquery('simple', ?)", query),
		).
		Order(rank.Desc()).
		Limit(uint(k)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build lexical search: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run lexical search: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Content, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}

	return results, nil
}

// SoftDeleteDocument tombstones a document and all of its chunks in one
// transaction, then fires the cache invalidation hook. Deleting an already
// deleted document is a no-op.
func (s *KnowledgeService) SoftDeleteDocument(httpCtx context.Context, docID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()

	docQuery, docArgs, err := database.Goqu.Update("knowledge_documents").
		Set(goqu.Record{"deleted_at": now}).
		Where(goqu.C("id").Eq(docID), goqu.C("deleted_at").IsNull()).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build document tombstone: %w", err)
	}
	if _, err := tx.Exec(ctx, docQuery, docArgs...); err != nil {
		return fmt.Errorf("failed to tombstone document: %w", err)
	}

	chunkQuery, chunkArgs, err := database.Goqu.Update("knowledge_chunks").
		Set(goqu.Record{"deleted_at": now}).
		Where(goqu.C("document_id").Eq(docID), goqu.C("deleted_at").IsNull()).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build chunk tombstone: %w", err)
	}
	if _, err := tx.Exec(ctx, chunkQuery, chunkArgs...); err != nil {
		return fmt.Errorf("failed to tombstone chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit soft delete: %w", err)
	}

	if s.invalidate != nil {
		s.invalidate(doc.BotID)
	}
	return nil
}

// ListSummaries returns up to limit (title, summary) pairs visible to the
// bot, newest first, for the intent classifier prompt.
func (s *KnowledgeService) ListSummaries(httpCtx context.Context, botID uuid.UUID, limit int) ([]models.DocumentSummary, error) {
	if limit <= 0 {
		limit = defaultSummaryLimit
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	query, args, err := database.Goqu.From("knowledge_documents").
		Select(goqu.C("title"), goqu.L("COALESCE(ai_summary, '')")).
		Where(
			goqu.Or(goqu.C("bot_id").Eq(botID), goqu.C("bot_id").IsNull()),
			goqu.C("deleted_at").IsNull(),
		).
		Order(goqu.C("created_at").Desc()).
		Limit(uint(limit)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build summaries query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []models.DocumentSummary
	for rows.Next() {
		var summary models.DocumentSummary
		if err := rows.Scan(&summary.Title, &summary.Summary); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read summaries: %w", err)
	}

	return summaries, nil
}
