package config

import (
	"fmt"
	"log/slog"
	"os"
)

// Validator performs comprehensive validation on loaded configuration
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates every configuration section and returns the first
// error encountered.
func (v *Validator) ValidateAll() error {
	validators := []func() error{
		v.validateServer,
		v.validateWS,
		v.validateLLM,
		v.validateRetrieval,
		v.validateMedia,
		v.validateObjectStore,
		v.validateRedis,
	}

	for _, fn := range validators {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateServer() error {
	s := v.cfg.Server
	if s == nil {
		return NewValidationError("server", "", "", ErrMissingRequiredField)
	}
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "", "port",
			fmt.Errorf("%w: %d", ErrInvalidValue, s.Port))
	}
	if s.PublicBaseURL == "" {
		return NewValidationError("server", "", "public_base_url", ErrMissingRequiredField)
	}
	return nil
}

func (v *Validator) validateWS() error {
	w := v.cfg.WS
	if w == nil {
		return NewValidationError("ws", "", "", ErrMissingRequiredField)
	}
	if w.TokenSecretEnv == "" {
		return NewValidationError("ws", "", "token_secret_env", ErrMissingRequiredField)
	}
	if os.Getenv(w.TokenSecretEnv) == "" {
		return NewValidationError("ws", "", "token_secret_env",
			fmt.Errorf("%w: environment variable %s is empty", ErrInvalidValue, w.TokenSecretEnv))
	}
	if w.TokenTTL <= 0 {
		return NewValidationError("ws", "", "token_ttl",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateLLM() error {
	l := v.cfg.LLM
	if l == nil {
		return NewValidationError("llm", "", "", ErrMissingRequiredField)
	}
	if l.Attempts < 1 {
		return NewValidationError("llm", "", "attempts",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if l.AttemptTimeout <= 0 {
		return NewValidationError("llm", "", "attempt_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if l.BreakerFailures < 1 {
		return NewValidationError("llm", "", "breaker_failures",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if len(l.Providers) == 0 {
		return NewValidationError("llm", "", "providers", ErrMissingRequiredField)
	}
	if _, ok := l.Providers[l.DefaultProvider]; !ok {
		return NewValidationError("llm", l.DefaultProvider, "default_provider",
			fmt.Errorf("%w: provider not defined", ErrInvalidValue))
	}
	for name, p := range l.Providers {
		if p.APIKeyEnv == "" {
			return NewValidationError("llm_provider", name, "api_key_env", ErrMissingRequiredField)
		}
		if p.DefaultModel == "" {
			return NewValidationError("llm_provider", name, "default_model", ErrMissingRequiredField)
		}
		if os.Getenv(p.APIKeyEnv) == "" {
			slog.Warn("LLM provider API key environment variable is empty",
				"provider", name, "env", p.APIKeyEnv)
		}
	}
	if emb := l.Embedding; emb != nil {
		// Stored chunk columns are vector(768); mismatched query vectors
		// would fail at the database layer with a far worse message.
		if emb.Dimensions != 768 {
			return NewValidationError("llm", "", "embedding.dimensions",
				fmt.Errorf("%w: must be 768, got %d", ErrInvalidValue, emb.Dimensions))
		}
		if !l.hasProvider(emb.Provider) {
			return NewValidationError("llm", emb.Provider, "embedding.provider",
				fmt.Errorf("%w: provider not defined", ErrInvalidValue))
		}
	} else {
		return NewValidationError("llm", "", "embedding", ErrMissingRequiredField)
	}
	if cls := l.Classifier; cls != nil && cls.On() {
		if cls.Timeout <= 0 {
			return NewValidationError("llm", "", "classifier.timeout",
				fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
		if !l.hasProvider(cls.Provider) {
			return NewValidationError("llm", cls.Provider, "classifier.provider",
				fmt.Errorf("%w: provider not defined", ErrInvalidValue))
		}
	}
	return nil
}

func (l *LLMConfig) hasProvider(name string) bool {
	_, ok := l.Providers[name]
	return ok
}

func (v *Validator) validateRetrieval() error {
	r := v.cfg.Retrieval
	if r == nil {
		return NewValidationError("retrieval", "", "", ErrMissingRequiredField)
	}
	if r.DefaultThreshold < 0 || r.DefaultThreshold > 1 {
		return NewValidationError("retrieval", "", "default_threshold",
			fmt.Errorf("%w: must be in [0,1], got %g", ErrInvalidValue, r.DefaultThreshold))
	}
	if r.DefaultTopK < 1 {
		return NewValidationError("retrieval", "", "default_top_k",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if h := r.Hybrid; h != nil {
		if h.RRFK < 1 {
			return NewValidationError("retrieval", "", "hybrid.rrf_k",
				fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
		if h.VectorWeight <= 0 || h.LexicalWeight <= 0 {
			return NewValidationError("retrieval", "", "hybrid.weights",
				fmt.Errorf("%w: weights must be positive", ErrInvalidValue))
		}
	}
	if rr := r.Rerank; rr != nil {
		if rr.InitialK < 1 {
			return NewValidationError("retrieval", "", "rerank.initial_k",
				fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
		if rr.URL != "" && rr.Timeout <= 0 {
			return NewValidationError("retrieval", "", "rerank.timeout",
				fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
	}
	return nil
}

func (v *Validator) validateMedia() error {
	m := v.cfg.Media
	if m == nil {
		return NewValidationError("media", "", "", ErrMissingRequiredField)
	}
	if m.Workers < 1 {
		return NewValidationError("media", "", "workers",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if m.QueueSize < 1 {
		return NewValidationError("media", "", "queue_size",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if m.PerBotInFlight < 1 {
		return NewValidationError("media", "", "per_bot_in_flight",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if m.FetchTimeout <= 0 {
		return NewValidationError("media", "", "fetch_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateObjectStore() error {
	o := v.cfg.ObjectStore
	if o == nil || o.Endpoint == "" {
		// Object store is optional; media fetch jobs fail soft without it.
		slog.Warn("Object store not configured, media persistence disabled")
		return nil
	}
	if o.Bucket == "" {
		return NewValidationError("object_store", "", "bucket", ErrMissingRequiredField)
	}
	if o.AccessKeyEnv == "" || o.SecretKeyEnv == "" {
		return NewValidationError("object_store", "", "credentials", ErrMissingRequiredField)
	}
	return nil
}

func (v *Validator) validateRedis() error {
	r := v.cfg.Redis
	if r == nil || !r.Enabled() {
		return nil
	}
	if r.DB < 0 {
		return NewValidationError("redis", "", "db",
			fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}
