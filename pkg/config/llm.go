package config

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// LLMProviderConfig defines one chat-completions provider endpoint.
// Any OpenAI-compatible API works; BaseURL selects the deployment.
type LLMProviderConfig struct {
	// Optional custom endpoint/base URL (default: https://api.openai.com/v1)
	BaseURL string `yaml:"base_url,omitempty"`

	// Environment variable name for the API key
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// DefaultModel is used when a bot does not pin a model.
	DefaultModel string `yaml:"default_model,omitempty"`

	// ModelTokenLimits maps model name to its completion-token ceiling.
	ModelTokenLimits map[string]int `yaml:"model_token_limits,omitempty"`

	// DefaultTokenLimit applies to models absent from ModelTokenLimits.
	DefaultTokenLimit int `yaml:"default_token_limit,omitempty"`
}

// APIKey resolves the API key from the configured environment variable.
func (p *LLMProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// TokenLimit returns the completion-token ceiling for a model.
func (p *LLMProviderConfig) TokenLimit(model string) int {
	if limit, ok := p.ModelTokenLimits[model]; ok && limit > 0 {
		return limit
	}
	return p.DefaultTokenLimit
}

// EmbeddingConfig selects the embedding model used for knowledge chunks and
// query vectors. Dimensions must match the stored vector width.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// ClassifierConfig selects the (usually cheaper) model used for intent
// classification before retrieval. Timeout is a hard ceiling; on expiry the
// pipeline degrades to treating the question as a knowledge query.
type ClassifierConfig struct {
	// Enabled defaults to true when unset (pointer distinguishes "absent"
	// from an explicit false).
	Enabled  *bool         `yaml:"enabled,omitempty"`
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// On reports whether intent classification runs before retrieval.
func (c *ClassifierConfig) On() bool {
	return c == nil || c.Enabled == nil || *c.Enabled
}

// LLMConfig groups generation, embedding, and classification settings.
type LLMConfig struct {
	// DefaultProvider names the provider used when a bot does not set one.
	DefaultProvider string `yaml:"default_provider"`

	// Attempts is the retry budget per generation call.
	Attempts int `yaml:"attempts"`

	// AttemptTimeout bounds a single generation attempt.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// BreakerFailures is the consecutive-failure count that opens the
	// circuit breaker.
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`

	Embedding  *EmbeddingConfig             `yaml:"embedding"`
	Classifier *ClassifierConfig            `yaml:"classifier"`
	Providers  map[string]LLMProviderConfig `yaml:"providers"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		DefaultProvider: "openai",
		Attempts:        3,
		AttemptTimeout:  30 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
		Embedding: &EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 768,
		},
		Classifier: &ClassifierConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  8 * time.Second,
		},
		Providers: map[string]LLMProviderConfig{
			"openai": {
				BaseURL:           "https://api.openai.com/v1",
				APIKeyEnv:         "OPENAI_API_KEY",
				DefaultModel:      "gpt-4o-mini",
				DefaultTokenLimit: 16384,
			},
		},
	}
}

// LLMProviderRegistry stores provider configurations in memory with
// thread-safe access. Bots reference providers by name (ai_provider column).
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
	mu        sync.RWMutex
}

// NewLLMProviderRegistry creates a new LLM provider registry
func NewLLMProviderRegistry(providers map[string]LLMProviderConfig) *LLMProviderRegistry {
	// Copy so later mutation of the caller's map cannot reach the registry
	copied := make(map[string]*LLMProviderConfig, len(providers))
	for k, v := range providers {
		p := v
		copied[k] = &p
	}
	return &LLMProviderRegistry{
		providers: copied,
	}
}

// Get retrieves an LLM provider configuration by name (thread-safe)
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
	}
	return provider, nil
}

// Has checks if an LLM provider exists in the registry (thread-safe)
func (r *LLMProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[name]
	return exists
}

// Len returns the number of LLM providers in the registry (thread-safe)
func (r *LLMProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
