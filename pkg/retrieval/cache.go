package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/chatbridge/linecore/pkg/config"
	"github.com/chatbridge/linecore/pkg/models"
)

// cacheSet holds the advisory embedding and retrieval caches. Retrieval keys
// embed per-bot generation counters; bumping a counter on document deletion
// strands every cached entry for that bot without scanning the LRU.
type cacheSet struct {
	embeddings *expirable.LRU[string, []float32]
	retrievals *expirable.LRU[string, []models.SearchResult]

	mu          sync.Mutex
	generations map[uuid.UUID]uint64
	globalGen   uint64
}

func newCacheSet(cfg *config.CacheConfig) *cacheSet {
	size := 512
	ttl := 5 * time.Minute
	if cfg != nil {
		if cfg.Size > 0 {
			size = cfg.Size
		}
		if cfg.TTL > 0 {
			ttl = cfg.TTL
		}
	}
	return &cacheSet{
		embeddings:  expirable.NewLRU[string, []float32](size, nil, ttl),
		retrievals:  expirable.NewLRU[string, []models.SearchResult](size, nil, ttl),
		generations: make(map[uuid.UUID]uint64),
	}
}

// invalidate bumps the generation for one bot, or for every bot when the
// deleted document was global.
func (c *cacheSet) invalidate(botID *uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if botID == nil {
		c.globalGen++
		return
	}
	c.generations[*botID]++
}

func (c *cacheSet) retrievalKey(botID uuid.UUID, mode string, threshold float64, k int, model, query string) string {
	c.mu.Lock()
	gen := c.generations[botID]
	globalGen := c.globalGen
	c.mu.Unlock()

	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("%s:%d:%d:%s:%.4f:%d:%s:%s",
		botID, gen, globalGen, mode, threshold, k, model, hex.EncodeToString(sum[:]))
}

func (c *cacheSet) getRetrieval(key string) ([]models.SearchResult, bool) {
	return c.retrievals.Get(key)
}

func (c *cacheSet) putRetrieval(key string, results []models.SearchResult) {
	c.retrievals.Add(key, results)
}

func (c *cacheSet) getEmbedding(key string) ([]float32, bool) {
	return c.embeddings.Get(key)
}

func (c *cacheSet) putEmbedding(key string, vec []float32) {
	c.embeddings.Add(key, vec)
}

func embeddingKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return model + ":" + hex.EncodeToString(sum[:])
}
