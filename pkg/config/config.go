package config

// Config is the umbrella configuration object returned by Initialize()
// and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Server      *ServerConfig
	Redis       *RedisConfig
	ObjectStore *ObjectStoreConfig
	Line        *LineConfig
	WS          *WSConfig
	Media       *MediaConfig
	LLM         *LLMConfig
	Retrieval   *RetrievalConfig

	// LLMProviderRegistry resolves a bot's ai_provider to endpoint settings.
	LLMProviderRegistry *LLMProviderRegistry
}

// Initialize is defined in loader.go

// Stats contains statistics about loaded configuration
type Stats struct {
	LLMProviders   int
	RedisEnabled   bool
	RerankEnabled  bool
	MediaWorkers   int
	ObjectStoreSet bool
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.LLMProviderRegistry != nil {
		s.LLMProviders = c.LLMProviderRegistry.Len()
	}
	if c.Redis != nil {
		s.RedisEnabled = c.Redis.Enabled()
	}
	if c.Retrieval != nil && c.Retrieval.Rerank != nil {
		s.RerankEnabled = c.Retrieval.Rerank.URL != ""
	}
	if c.Media != nil {
		s.MediaWorkers = c.Media.Workers
	}
	if c.ObjectStore != nil {
		s.ObjectStoreSet = c.ObjectStore.Endpoint != ""
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetLLMProvider retrieves an LLM provider configuration by name.
// This is a convenience method that wraps LLMProviderRegistry.Get().
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}
