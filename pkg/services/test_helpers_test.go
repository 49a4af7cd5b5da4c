package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/linecore/pkg/database"
	"github.com/chatbridge/linecore/pkg/models"
)

// seedBot inserts a bot row directly. Bot registration lives outside this
// service layer, so there is no create API to go through.
func seedBot(t *testing.T, client *database.Client, ownerID, name string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := client.Pool().QueryRow(context.Background(),
		`INSERT INTO bots (owner_id, name, channel_token, channel_secret)
		 VALUES ($1, $2, 'test-channel-token', 'test-channel-secret')
		 RETURNING id`,
		ownerID, name).Scan(&id)
	require.NoError(t, err)
	return id
}

// seedTemplate inserts a logic template row. isActive is the stored string
// flag ("true"/"false"), not a boolean.
func seedTemplate(t *testing.T, client *database.Client, botID uuid.UUID, name, isActive, blocks string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := client.Pool().QueryRow(context.Background(),
		`INSERT INTO logic_templates (bot_id, name, is_active, logic_blocks)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		botID, name, isActive, blocks).Scan(&id)
	require.NoError(t, err)
	return id
}

// seedFlexMessage inserts a saved flex design row.
func seedFlexMessage(t *testing.T, client *database.Client, ownerID, name, content string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := client.Pool().QueryRow(context.Background(),
		`INSERT INTO flex_messages (owner_id, name, content)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		ownerID, name, content).Scan(&id)
	require.NoError(t, err)
	return id
}

// oneHotEmbedding returns a 768-dimensional unit vector. Identical vectors
// have cosine similarity 1 and distinct ones 0, which keeps similarity
// thresholds in tests exact.
func oneHotEmbedding(hot int) []float32 {
	v := make([]float32, models.EmbeddingDimensions)
	v[hot] = 1
	return v
}

func strptr(s string) *string {
	return &s
}
