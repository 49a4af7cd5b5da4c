package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingDimensions is the fixed width of stored chunk vectors.
const EmbeddingDimensions = 768

// KnowledgeDocument is an uploaded source grouping its chunks. A nil BotID
// makes the document visible to every bot (global scope).
type KnowledgeDocument struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	BotID            *uuid.UUID `db:"bot_id" json:"bot_id,omitempty"`
	SourceType       string     `db:"source_type" json:"source_type"`
	Title            string     `db:"title" json:"title"`
	OriginalFileName *string    `db:"original_file_name" json:"original_file_name,omitempty"`
	ObjectPath       *string    `db:"object_path" json:"object_path,omitempty"`
	AISummary        *string    `db:"ai_summary" json:"ai_summary,omitempty"`
	Meta             JSONMap    `db:"meta" json:"meta,omitempty"`
	DeletedAt        *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// KnowledgeChunk is one embedded slice of a document.
type KnowledgeChunk struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	DocumentID          uuid.UUID       `db:"document_id" json:"document_id"`
	BotID               *uuid.UUID      `db:"bot_id" json:"bot_id,omitempty"`
	Content             string          `db:"content" json:"content"`
	Embedding           pgvector.Vector `db:"embedding" json:"-"`
	EmbeddingModel      string          `db:"embedding_model" json:"embedding_model"`
	EmbeddingDimensions int             `db:"embedding_dimensions" json:"embedding_dimensions"`
	Meta                JSONMap         `db:"meta" json:"meta,omitempty"`
	DeletedAt           *time.Time      `db:"deleted_at" json:"-"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
}

// UpsertDocumentInput contains fields for creating or replacing a document.
type UpsertDocumentInput struct {
	ID               *uuid.UUID
	BotID            *uuid.UUID
	SourceType       string
	Title            string
	OriginalFileName *string
	ObjectPath       *string
	AISummary        *string
	Meta             JSONMap
}

// ChunkInput is one chunk to embed-store under a document. ChunkIndex
// preserves original document order for later reassembly.
type ChunkInput struct {
	Content        string
	Embedding      []float32
	EmbeddingModel string
	ChunkIndex     int
	Meta           JSONMap
}

// SearchResult is one scored chunk returned by knowledge search.
// Similarity is cosine similarity where the mode computes one; Score is the
// mode-specific ranking score (equal to Similarity for pure vector search).
type SearchResult struct {
	ChunkID    uuid.UUID `db:"chunk_id" json:"chunk_id"`
	DocumentID uuid.UUID `db:"document_id" json:"document_id"`
	Content    string    `db:"content" json:"content"`
	Similarity float64   `db:"similarity" json:"similarity"`
	Score      float64   `db:"-" json:"score"`
}

// DocumentSummary is a (title, summary) pair fed to the intent classifier.
type DocumentSummary struct {
	Title   string `db:"title" json:"title"`
	Summary string `db:"ai_summary" json:"summary"`
}
