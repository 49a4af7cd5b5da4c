package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// LinecoreYAMLConfig represents the complete linecore.yaml file structure
type LinecoreYAMLConfig struct {
	Server      *ServerConfig      `yaml:"server"`
	Redis       *RedisConfig       `yaml:"redis"`
	ObjectStore *ObjectStoreConfig `yaml:"object_store"`
	Line        *LineConfig        `yaml:"line"`
	WS          *WSConfig          `yaml:"ws"`
	Media       *MediaConfig       `yaml:"media"`
	LLM         *LLMConfig         `yaml:"llm"`
	Retrieval   *RetrievalConfig   `yaml:"retrieval"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load linecore.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user values over built-in defaults
//  5. Build the LLM provider registry
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"llm_providers", stats.LLMProviders,
		"redis_enabled", stats.RedisEnabled,
		"rerank_enabled", stats.RerankEnabled,
		"media_workers", stats.MediaWorkers,
		"object_store_configured", stats.ObjectStoreSet)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	yamlCfg, err := loader.loadLinecoreYAML()
	if err != nil {
		return nil, NewLoadError("linecore.yaml", err)
	}

	// Each section starts from built-in defaults; user-provided non-zero
	// values override (same merge direction everywhere).
	serverCfg := DefaultServerConfig()
	if err := mergeSection(serverCfg, yamlCfg.Server, "server"); err != nil {
		return nil, err
	}

	redisCfg := DefaultRedisConfig()
	if err := mergeSection(redisCfg, yamlCfg.Redis, "redis"); err != nil {
		return nil, err
	}

	objectStoreCfg := DefaultObjectStoreConfig()
	if err := mergeSection(objectStoreCfg, yamlCfg.ObjectStore, "object_store"); err != nil {
		return nil, err
	}

	lineCfg := DefaultLineConfig()
	if err := mergeSection(lineCfg, yamlCfg.Line, "line"); err != nil {
		return nil, err
	}

	wsCfg := DefaultWSConfig()
	if err := mergeSection(wsCfg, yamlCfg.WS, "ws"); err != nil {
		return nil, err
	}

	mediaCfg := DefaultMediaConfig()
	if err := mergeSection(mediaCfg, yamlCfg.Media, "media"); err != nil {
		return nil, err
	}

	llmCfg := DefaultLLMConfig()
	if err := mergeSection(llmCfg, yamlCfg.LLM, "llm"); err != nil {
		return nil, err
	}

	retrievalCfg := DefaultRetrievalConfig()
	if err := mergeSection(retrievalCfg, yamlCfg.Retrieval, "retrieval"); err != nil {
		return nil, err
	}

	return &Config{
		configDir:           configDir,
		Server:              serverCfg,
		Redis:               redisCfg,
		ObjectStore:         objectStoreCfg,
		Line:                lineCfg,
		WS:                  wsCfg,
		Media:               mediaCfg,
		LLM:                 llmCfg,
		Retrieval:           retrievalCfg,
		LLMProviderRegistry: NewLLMProviderRegistry(llmCfg.Providers),
	}, nil
}

// mergeSection merges user-provided YAML values over built-in defaults.
// A nil user section keeps the defaults untouched.
func mergeSection[T any](defaults *T, user *T, name string) error {
	if user == nil {
		return nil
	}
	if err := mergo.Merge(defaults, user, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge %s config: %w", name, err)
	}
	return nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadLinecoreYAML() (*LinecoreYAMLConfig, error) {
	var config LinecoreYAMLConfig

	if err := l.loadYAML("linecore.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}
