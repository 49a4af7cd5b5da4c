package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"

	"github.com/chatbridge/linecore/pkg/config"
)

const (
	retryInitialDelay = 500 * time.Millisecond
	retryMaxDelay     = 5 * time.Second
	retryMaxJitter    = 250 * time.Millisecond

	classifierMaxTokens = 16
)

// Client talks to OpenAI-compatible chat-completions providers. Providers are
// looked up by name; each gets its own API client and circuit breaker.
type Client struct {
	cfg      *config.LLMConfig
	registry *config.LLMProviderRegistry

	mu       sync.Mutex
	apis     map[string]*openai.Client
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewClient creates an LLM client from configuration.
func NewClient(cfg *config.LLMConfig) *Client {
	return &Client{
		cfg:      cfg,
		registry: config.NewLLMProviderRegistry(cfg.Providers),
		apis:     make(map[string]*openai.Client),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Ask generates an answer for a user question with optional conversation
// history and knowledge context. Fails fast with ErrLLMUnavailable while the
// provider's breaker is open.
func (c *Client) Ask(ctx context.Context, in AskInput) (string, error) {
	provider := in.Provider
	if provider == "" {
		provider = c.cfg.DefaultProvider
	}
	pcfg, err := c.registry.Get(provider)
	if err != nil {
		return "", err
	}

	model := in.Model
	if model == "" {
		model = pcfg.DefaultModel
	}

	req := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  BuildMessages(in),
		MaxTokens: completionTokens(in.MaxTokens, pcfg.TokenLimit(model)),
	}

	resp, err := c.chatWithRetry(ctx, provider, req, c.cfg.AttemptTimeout)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider %s returned no choices", provider)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Classify labels a question as "chat" or "query" using the classifier model.
// The whole call is bounded by the classifier timeout; callers treat any
// error as "query".
func (c *Client) Classify(ctx context.Context, question string, hints []DocumentHint) (string, error) {
	cls := c.cfg.Classifier
	provider := cls.Provider
	if provider == "" {
		provider = c.cfg.DefaultProvider
	}
	pcfg, err := c.registry.Get(provider)
	if err != nil {
		return "", err
	}

	model := cls.Model
	if model == "" {
		model = pcfg.DefaultModel
	}
	timeout := cls.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildClassifierPrompt(question, hints)},
		},
		MaxTokens: classifierMaxTokens,
	}

	resp, err := c.chatWithRetry(ctx, provider, req, timeout)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider %s returned no choices", provider)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Embed converts texts into vectors with the configured embedding provider.
// An empty model falls back to the configured embedding model. Results keep
// input order.
func (c *Client) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	emb := c.cfg.Embedding
	provider := emb.Provider
	if provider == "" {
		provider = c.cfg.DefaultProvider
	}
	if model == "" {
		model = emb.Model
	}

	api, err := c.apiFor(provider)
	if err != nil {
		return nil, err
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	}
	if emb.Dimensions > 0 {
		req.Dimensions = emb.Dimensions
	}

	out, err := c.breakerFor(provider).Execute(func() (any, error) {
		var resp openai.EmbeddingResponse
		retryErr := retry.Do(
			func() error {
				attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
				defer cancel()
				var callErr error
				resp, callErr = api.CreateEmbeddings(attemptCtx, req)
				return callErr
			},
			c.retryOptions(ctx, "embeddings")...,
		)
		if retryErr != nil {
			return nil, retryErr
		}
		return resp, nil
	})
	if err != nil {
		return nil, c.classifyBreakerError(provider, "embeddings", err)
	}

	resp := out.(openai.EmbeddingResponse)
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("provider %s returned %d embeddings for %d inputs", provider, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("provider %s returned out-of-range embedding index %d", provider, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (c *Client) chatWithRetry(ctx context.Context, provider string, req openai.ChatCompletionRequest, perAttempt time.Duration) (openai.ChatCompletionResponse, error) {
	api, err := c.apiFor(provider)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}

	out, err := c.breakerFor(provider).Execute(func() (any, error) {
		var resp openai.ChatCompletionResponse
		retryErr := retry.Do(
			func() error {
				attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
				defer cancel()
				var callErr error
				resp, callErr = api.CreateChatCompletion(attemptCtx, req)
				return callErr
			},
			c.retryOptions(ctx, "chat completion")...,
		)
		if retryErr != nil {
			return nil, retryErr
		}
		return resp, nil
	})
	if err != nil {
		return openai.ChatCompletionResponse{}, c.classifyBreakerError(provider, "chat completion", err)
	}
	return out.(openai.ChatCompletionResponse), nil
}

func (c *Client) retryOptions(ctx context.Context, op string) []retry.Option {
	attempts := c.cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	return []retry.Option{
		retry.RetryIf(isRetryable),
		retry.Attempts(uint(attempts)),
		retry.Delay(retryInitialDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxDelay(retryMaxDelay),
		retry.MaxJitter(retryMaxJitter),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("Retrying LLM call", "op", op, "attempt", n+1, "error", err)
		}),
	}
}

func (c *Client) classifyBreakerError(provider, op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		slog.Warn("LLM breaker open, failing fast", "provider", provider, "op", op)
		return ErrLLMUnavailable
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

// apiFor returns the cached API client for a provider, creating it on first
// use.
func (c *Client) apiFor(name string) (*openai.Client, error) {
	pcfg, err := c.registry.Get(name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if api, ok := c.apis[name]; ok {
		return api, nil
	}

	clientConfig := openai.DefaultConfig(pcfg.APIKey())
	if pcfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(pcfg.BaseURL, "/")
	}
	api := openai.NewClientWithConfig(clientConfig)
	c.apis[name] = api
	return api, nil
}

// breakerFor returns the provider's circuit breaker, creating it on first
// use. The breaker sits outside the retry loop, so one exhausted call counts
// as one failure.
func (c *Client) breakerFor(name string) *gobreaker.CircuitBreaker[any] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[name]; ok {
		return cb
	}

	failures := c.cfg.BreakerFailures
	if failures <= 0 {
		failures = 5
	}
	cooldown := c.cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "llm-" + name,
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("LLM breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	c.breakers[name] = cb
	return cb
}

// isRetryable reports whether an attempt failure is worth retrying: rate
// limits, 5xx responses, connection errors, and attempt timeouts. Cancelled
// contexts are surfaced immediately.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
