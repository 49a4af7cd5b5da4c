package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, "linecore.yaml"), []byte(content), 0o600)
	require.NoError(t, err)
}

func TestInitializeAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
server:
  public_base_url: https://bots.example.com
`)
	t.Setenv("WS_TOKEN_SECRET", "test-secret")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, "https://bots.example.com", cfg.Server.PublicBaseURL)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, 3, cfg.LLM.Attempts)
	assert.Equal(t, 30*time.Second, cfg.LLM.AttemptTimeout)
	assert.Equal(t, 5, cfg.LLM.BreakerFailures)
	assert.Equal(t, 768, cfg.LLM.Embedding.Dimensions)
	assert.True(t, cfg.LLM.Classifier.On())
	assert.Equal(t, 8*time.Second, cfg.LLM.Classifier.Timeout)
	assert.InDelta(t, 0.7, cfg.Retrieval.DefaultThreshold, 1e-9)
	assert.Equal(t, 5, cfg.Retrieval.DefaultTopK)
	assert.Equal(t, 60, cfg.Retrieval.Hybrid.RRFK)
	assert.Equal(t, 20, cfg.Retrieval.Rerank.InitialK)
	assert.Equal(t, 4, cfg.Media.Workers)

	provider, err := cfg.GetLLMProvider("openai")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", provider.DefaultModel)
}

func TestInitializeOverridesFromYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
server:
  port: 9100
  public_base_url: https://bots.example.com

redis:
  addr: redis.internal:6379
  db: 2

llm:
  default_provider: local
  attempts: 5
  attempt_timeout: 45s
  classifier:
    enabled: false
  providers:
    local:
      base_url: http://llm.internal:8080/v1
      api_key_env: LOCAL_LLM_KEY
      default_model: qwen2.5-14b
      default_token_limit: 8192

retrieval:
  default_threshold: 0.55
  rerank:
    initial_k: 30
    url: http://reranker.internal:9200/score

media:
  workers: 8
`)
	t.Setenv("WS_TOKEN_SECRET", "test-secret")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "local", cfg.LLM.DefaultProvider)
	assert.Equal(t, 5, cfg.LLM.Attempts)
	assert.Equal(t, 45*time.Second, cfg.LLM.AttemptTimeout)
	assert.False(t, cfg.LLM.Classifier.On(), "explicit enabled: false must win over default")
	assert.InDelta(t, 0.55, cfg.Retrieval.DefaultThreshold, 1e-9)
	assert.Equal(t, 30, cfg.Retrieval.Rerank.InitialK)
	assert.Equal(t, "http://reranker.internal:9200/score", cfg.Retrieval.Rerank.URL)
	assert.Equal(t, 8, cfg.Media.Workers)

	// User-defined provider merged alongside the built-in one.
	local, err := cfg.GetLLMProvider("local")
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-14b", local.DefaultModel)
	assert.Equal(t, 8192, local.TokenLimit("anything"))
	assert.True(t, cfg.LLMProviderRegistry.Has("openai"))
}

func TestInitializeExpandsEnvTemplates(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
redis:
  addr: "{{.TEST_REDIS_ADDR}}"
`)
	t.Setenv("WS_TOKEN_SECRET", "test-secret")
	t.Setenv("TEST_REDIS_ADDR", "10.0.0.5:6379")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:6379", cfg.Redis.Addr)
}

func TestInitializeMissingFile(t *testing.T) {
	dir := t.TempDir()

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)

	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "linecore.yaml", loadErr.File)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "server:\n  port: [not a port\n")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}
