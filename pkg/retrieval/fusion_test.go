package retrieval

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/linecore/pkg/config"
	"github.com/chatbridge/linecore/pkg/models"
)

const (
	chunkA = "11111111-1111-1111-1111-111111111111"
	chunkB = "22222222-2222-2222-2222-222222222222"
	chunkC = "33333333-3333-3333-3333-333333333333"
)

func chunkResult(id string, similarity float64, content string) models.SearchResult {
	return models.SearchResult{
		ChunkID:    uuid.MustParse(id),
		DocumentID: uuid.MustParse(id),
		Content:    content,
		Similarity: similarity,
		Score:      similarity,
	}
}

func TestFuseRRF(t *testing.T) {
	cfg := &config.HybridConfig{RRFK: 60, VectorWeight: 0.7, LexicalWeight: 0.3}

	t.Run("chunk on both legs outranks single-leg chunks", func(t *testing.T) {
		a := chunkResult(chunkA, 0.9, "vector only")
		b := chunkResult(chunkB, 0.8, "both legs")
		c := chunkResult(chunkC, 0, "lexical only")

		fused := fuseRRF(
			[]models.SearchResult{a, b},
			[]models.SearchResult{b, c},
			cfg, 10,
		)

		require.Len(t, fused, 3)
		assert.Equal(t, b.ChunkID, fused[0].ChunkID)
		assert.Equal(t, a.ChunkID, fused[1].ChunkID)
		assert.Equal(t, c.ChunkID, fused[2].ChunkID)
		// b sits at vector rank 2 and lexical rank 1.
		assert.InDelta(t, 0.7/62+0.3/61, fused[0].Score, 1e-9)
		assert.Equal(t, "both legs", fused[0].Content)
		assert.InDelta(t, 0.8, fused[0].Similarity, 1e-9)
	})

	t.Run("limit caps the fused list", func(t *testing.T) {
		a := chunkResult(chunkA, 0.9, "a")
		b := chunkResult(chunkB, 0.8, "b")
		c := chunkResult(chunkC, 0.7, "c")

		fused := fuseRRF([]models.SearchResult{a, b, c}, nil, cfg, 2)

		require.Len(t, fused, 2)
		assert.Equal(t, a.ChunkID, fused[0].ChunkID)
		assert.Equal(t, b.ChunkID, fused[1].ChunkID)
	})

	t.Run("equal scores tie-break on chunk id", func(t *testing.T) {
		even := &config.HybridConfig{RRFK: 60, VectorWeight: 0.5, LexicalWeight: 0.5}
		a := chunkResult(chunkA, 0.9, "a")
		b := chunkResult(chunkB, 0.9, "b")

		fused := fuseRRF([]models.SearchResult{b}, []models.SearchResult{a}, even, 10)

		require.Len(t, fused, 2)
		assert.Equal(t, a.ChunkID, fused[0].ChunkID)
		assert.Equal(t, b.ChunkID, fused[1].ChunkID)
	})

	t.Run("empty legs fuse to nothing", func(t *testing.T) {
		assert.Empty(t, fuseRRF(nil, nil, cfg, 5))
	})
}

func TestRankByScores(t *testing.T) {
	t.Run("raw scores replace the vector order", func(t *testing.T) {
		candidates := []models.SearchResult{
			chunkResult(chunkA, 0.9, "a"),
			chunkResult(chunkB, 0.8, "b"),
			chunkResult(chunkC, 0.7, "c"),
		}

		out := rankByScores(candidates, []float64{0.1, 0.9, 0.5}, false, 10)

		require.Len(t, out, 3)
		assert.Equal(t, chunkB, out[0].ChunkID.String())
		assert.Equal(t, chunkC, out[1].ChunkID.String())
		assert.Equal(t, chunkA, out[2].ChunkID.String())
		assert.InDelta(t, 0.9, out[0].Score, 1e-9)
		// The caller's slice keeps its order.
		assert.Equal(t, chunkA, candidates[0].ChunkID.String())
	})

	t.Run("blending averages normalized scores with similarity", func(t *testing.T) {
		candidates := []models.SearchResult{
			chunkResult(chunkA, 0.9, "a"),
			chunkResult(chunkB, 0.5, "b"),
		}

		out := rankByScores(candidates, []float64{0.2, 0.8}, true, 10)

		require.Len(t, out, 2)
		assert.Equal(t, chunkB, out[0].ChunkID.String())
		assert.InDelta(t, 0.5*1.0+0.5*0.5, out[0].Score, 1e-9)
		assert.InDelta(t, 0.5*0.0+0.5*0.9, out[1].Score, 1e-9)
	})

	t.Run("flat scores fall back to the vector order", func(t *testing.T) {
		candidates := []models.SearchResult{
			chunkResult(chunkA, 0.9, "a"),
			chunkResult(chunkB, 0.4, "b"),
		}

		out := rankByScores(candidates, []float64{0.5, 0.5}, true, 10)

		require.Len(t, out, 2)
		assert.Equal(t, chunkA, out[0].ChunkID.String())
		assert.InDelta(t, 0.95, out[0].Score, 1e-9)
		assert.InDelta(t, 0.7, out[1].Score, 1e-9)
	})

	t.Run("limit caps the reranked list", func(t *testing.T) {
		candidates := []models.SearchResult{
			chunkResult(chunkA, 0.9, "a"),
			chunkResult(chunkB, 0.8, "b"),
		}

		out := rankByScores(candidates, []float64{0.1, 0.9}, false, 1)

		require.Len(t, out, 1)
		assert.Equal(t, chunkB, out[0].ChunkID.String())
	})
}

func TestBuildContext(t *testing.T) {
	t.Run("numbers excerpts separated by blank lines", func(t *testing.T) {
		out := BuildContext([]models.SearchResult{
			{Content: "退貨需於七天內申請。"},
			{Content: "運費一律 60 元。"},
		})

		assert.Equal(t, "[片段1]\n退貨需於七天內申請。\n\n[片段2]\n運費一律 60 元。", out)
	})

	t.Run("no results renders empty", func(t *testing.T) {
		assert.Empty(t, BuildContext(nil))
	})
}
