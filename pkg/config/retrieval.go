package config

import "time"

// HybridConfig tunes reciprocal-rank fusion of vector and lexical search.
type HybridConfig struct {
	// RRFK is the rank-fusion constant k in 1/(k+rank).
	RRFK int `yaml:"rrf_k"`

	// VectorWeight scales the vector leg's fused contribution.
	VectorWeight float64 `yaml:"vector_weight"`

	// LexicalWeight scales the full-text leg's fused contribution.
	LexicalWeight float64 `yaml:"lexical_weight"`
}

// RerankConfig tunes the cross-encoder rerank stage.
type RerankConfig struct {
	// InitialK is how many vector candidates are fetched for reranking.
	InitialK int `yaml:"initial_k"`

	// BlendScores averages normalized rerank scores with the original
	// vector similarity instead of using rerank scores alone.
	BlendScores bool `yaml:"blend_scores"`

	// URL of the cross-encoder scoring service. Empty disables rerank mode.
	URL string `yaml:"url"`

	// Timeout bounds one scoring call.
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig tunes the advisory embedding/retrieval caches.
type CacheConfig struct {
	TTL  time.Duration `yaml:"ttl"`
	Size int           `yaml:"size"`
}

// RetrievalConfig contains knowledge-retrieval defaults. Per-bot settings
// (threshold, top-k, search mode) override these when present.
type RetrievalConfig struct {
	// DefaultThreshold is the minimum cosine similarity for a chunk to be
	// considered relevant.
	DefaultThreshold float64 `yaml:"default_threshold"`

	// DefaultTopK is how many chunks feed the prompt.
	DefaultTopK int `yaml:"default_top_k"`

	Hybrid *HybridConfig `yaml:"hybrid"`
	Rerank *RerankConfig `yaml:"rerank"`
	Cache  *CacheConfig  `yaml:"cache"`
}

// DefaultRetrievalConfig returns the built-in retrieval defaults.
func DefaultRetrievalConfig() *RetrievalConfig {
	return &RetrievalConfig{
		DefaultThreshold: 0.7,
		DefaultTopK:      5,
		Hybrid: &HybridConfig{
			RRFK:          60,
			VectorWeight:  0.7,
			LexicalWeight: 0.3,
		},
		Rerank: &RerankConfig{
			InitialK: 20,
			Timeout:  10 * time.Second,
		},
		Cache: &CacheConfig{
			TTL:  5 * time.Minute,
			Size: 512,
		},
	}
}
