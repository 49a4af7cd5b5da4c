package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/linecore/pkg/config"
)

func TestReranker_Score(t *testing.T) {
	t.Run("posts query and documents and returns scores", func(t *testing.T) {
		var (
			gotMethod      string
			gotContentType string
			gotReq         rerankRequest
			decodeErr      error
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotContentType = r.Header.Get("Content-Type")
			decodeErr = json.NewDecoder(r.Body).Decode(&gotReq)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"scores":[0.12,0.87]}`))
		}))
		defer server.Close()

		reranker := NewReranker(&config.RerankConfig{URL: server.URL, Timeout: 5 * time.Second})
		scores, err := reranker.Score(context.Background(), "退貨流程", []string{"doc one", "doc two"})

		require.NoError(t, err)
		assert.Equal(t, []float64{0.12, 0.87}, scores)
		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Equal(t, "application/json", gotContentType)
		require.NoError(t, decodeErr)
		assert.Equal(t, "退貨流程", gotReq.Query)
		assert.Equal(t, []string{"doc one", "doc two"}, gotReq.Documents)
	})

	t.Run("no documents short-circuits without a call", func(t *testing.T) {
		reranker := NewReranker(&config.RerankConfig{URL: "http://127.0.0.1:1"})
		scores, err := reranker.Score(context.Background(), "q", nil)

		require.NoError(t, err)
		assert.Nil(t, scores)
	})

	t.Run("non-200 surfaces the status and body snippet", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		reranker := NewReranker(&config.RerankConfig{URL: server.URL})
		_, err := reranker.Score(context.Background(), "q", []string{"d"})

		assert.ErrorContains(t, err, "rerank service returned 503")
		assert.ErrorContains(t, err, "model overloaded")
	})

	t.Run("score count must match document count", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"scores":[0.5]}`))
		}))
		defer server.Close()

		reranker := NewReranker(&config.RerankConfig{URL: server.URL})
		_, err := reranker.Score(context.Background(), "q", []string{"d1", "d2"})

		assert.ErrorContains(t, err, "returned 1 scores for 2 documents")
	})

	t.Run("cancelled context aborts the call", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"scores":[0.5]}`))
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		reranker := NewReranker(&config.RerankConfig{URL: server.URL})
		_, err := reranker.Score(ctx, "q", []string{"d"})

		require.Error(t, err)
	})
}
