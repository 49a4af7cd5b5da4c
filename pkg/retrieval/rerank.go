package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chatbridge/linecore/pkg/config"
)

const maxRerankErrorBody = 2048

// Reranker scores (query, document) pairs against an external cross-encoder
// service speaking the common {query, documents} -> {scores} JSON contract.
type Reranker struct {
	url    string
	client *http.Client
}

// NewReranker creates a cross-encoder client for the configured URL.
func NewReranker(cfg *config.RerankConfig) *Reranker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reranker{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Score returns one relevance score per document, in input order.
func (r *Reranker) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxRerankErrorBody))
		return nil, fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, string(snippet))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	if len(out.Scores) != len(documents) {
		return nil, fmt.Errorf("rerank service returned %d scores for %d documents", len(out.Scores), len(documents))
	}
	return out.Scores, nil
}
