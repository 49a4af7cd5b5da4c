package models

import (
	"time"

	"github.com/google/uuid"
)

// Knowledge search modes configurable per bot.
const (
	SearchModeVector = "vector"
	SearchModeHybrid = "hybrid"
	SearchModeRerank = "rerank"
)

// Bot is a registered LINE channel with its reply configuration.
// Channel credentials are write-only from the API's point of view.
type Bot struct {
	ID                uuid.UUID `db:"id" json:"id"`
	OwnerID           string    `db:"owner_id" json:"owner_id"`
	Name              string    `db:"name" json:"name"`
	ChannelToken      string    `db:"channel_token" json:"-"`
	ChannelSecret     string    `db:"channel_secret" json:"-"`
	AITakeoverEnabled bool      `db:"ai_takeover_enabled" json:"ai_takeover_enabled"`
	AIProvider        string    `db:"ai_provider" json:"ai_provider"`
	AIModel           string    `db:"ai_model" json:"ai_model"`
	AISystemPrompt    string    `db:"ai_system_prompt" json:"ai_system_prompt"`
	AIRAGThreshold    float64   `db:"ai_rag_threshold" json:"ai_rag_threshold"`
	AIRAGTopK         int       `db:"ai_rag_top_k" json:"ai_rag_top_k"`
	AIHistoryMessages int       `db:"ai_history_messages" json:"ai_history_messages"`
	AISearchMode      string    `db:"ai_search_mode" json:"ai_search_mode"`
	AIRerankInitialK  int       `db:"ai_rerank_initial_k" json:"ai_rerank_initial_k"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// IsConfigured reports whether both LINE channel credentials are present.
// Bots without credentials cannot verify webhooks or call the LINE API.
func (b *Bot) IsConfigured() bool {
	return b.ChannelSecret != "" && b.ChannelToken != ""
}
