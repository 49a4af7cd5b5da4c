package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/chatbridge/linecore/pkg/config"
	"github.com/chatbridge/linecore/pkg/models"
)

// fuseRRF merges the vector and lexical legs with weighted reciprocal-rank
// fusion: score = w/(k+rank) summed over the legs a chunk appears in, ranks
// 1-based. Ties break on chunk ID so ordering stays deterministic.
func fuseRRF(vector, lexical []models.SearchResult, cfg *config.HybridConfig, limit int) []models.SearchResult {
	type fused struct {
		result models.SearchResult
		score  float64
	}

	byChunk := make(map[uuid.UUID]*fused, len(vector)+len(lexical))
	add := func(results []models.SearchResult, weight float64) {
		for rank, r := range results {
			f, ok := byChunk[r.ChunkID]
			if !ok {
				f = &fused{result: r}
				byChunk[r.ChunkID] = f
			}
			f.score += weight / float64(cfg.RRFK+rank+1)
		}
	}
	add(vector, cfg.VectorWeight)
	add(lexical, cfg.LexicalWeight)

	out := make([]models.SearchResult, 0, len(byChunk))
	for _, f := range byChunk {
		f.result.Score = f.score
		out = append(out, f.result)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID.String() < out[j].ChunkID.String()
	})
	return capResults(out, limit)
}

// rankByScores reorders candidates by cross-encoder score. With blending on,
// scores are min-max normalized and averaged with the original vector
// similarity; a degenerate score range normalizes to 1.0 so the vector order
// decides.
func rankByScores(candidates []models.SearchResult, scores []float64, blend bool, limit int) []models.SearchResult {
	out := make([]models.SearchResult, len(candidates))
	copy(out, candidates)

	if blend {
		lo, hi := scores[0], scores[0]
		for _, s := range scores[1:] {
			if s < lo {
				lo = s
			}
			if s > hi {
				hi = s
			}
		}
		for i := range out {
			norm := 1.0
			if hi > lo {
				norm = (scores[i] - lo) / (hi - lo)
			}
			out[i].Score = 0.5*norm + 0.5*out[i].Similarity
		}
	} else {
		for i := range out {
			out[i].Score = scores[i]
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return capResults(out, limit)
}

func capResults(results []models.SearchResult, limit int) []models.SearchResult {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}

// BuildContext formats retrieved chunks as numbered excerpts separated by
// blank lines, the shape the generation prompt expects.
func BuildContext(results []models.SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[片段%d]\n%s", i+1, r.Content)
	}
	return strings.Join(parts, "\n\n")
}
