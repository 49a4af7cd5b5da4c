package config

import (
	"fmt"
	"os"
	"time"
)

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	// Host is the listen address.
	Host string `yaml:"host"`

	// Port is the listen port.
	Port int `yaml:"port"`

	// PublicBaseURL is the externally reachable base URL of this deployment,
	// used to build webhook URLs and media proxy URLs
	// (e.g. "https://bots.example.com").
	PublicBaseURL string `yaml:"public_base_url"`

	// AllowedWSOrigins lists additional origin patterns accepted during the
	// WebSocket handshake, on top of PublicBaseURL and localhost.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// Addr returns the host:port listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:          "0.0.0.0",
		Port:          8000,
		PublicBaseURL: "http://localhost:8000",
	}
}

// RedisConfig contains settings for the cross-process broadcast bridge.
// An empty Addr disables the bridge; broadcasts stay process-local.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Password resolves the Redis password from the configured environment variable.
func (c *RedisConfig) Password() string {
	if c.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.PasswordEnv)
}

// DefaultRedisConfig returns the built-in Redis defaults (bridge disabled).
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		PasswordEnv: "REDIS_PASSWORD",
	}
}

// ObjectStoreConfig contains S3-compatible object store settings for media
// and document storage.
type ObjectStoreConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	Bucket       string `yaml:"bucket"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// AccessKey resolves the access key from the configured environment variable.
func (c *ObjectStoreConfig) AccessKey() string {
	return os.Getenv(c.AccessKeyEnv)
}

// SecretKey resolves the secret key from the configured environment variable.
func (c *ObjectStoreConfig) SecretKey() string {
	return os.Getenv(c.SecretKeyEnv)
}

// DefaultObjectStoreConfig returns the built-in object store defaults.
func DefaultObjectStoreConfig() *ObjectStoreConfig {
	return &ObjectStoreConfig{
		AccessKeyEnv: "OBJECT_STORE_ACCESS_KEY",
		SecretKeyEnv: "OBJECT_STORE_SECRET_KEY",
		Bucket:       "linecore-media",
	}
}

// LineConfig contains LINE Messaging API endpoints and timeouts. The bases
// are overridable for tests; production deployments keep the defaults.
type LineConfig struct {
	// APIBase serves reply/push/bot-info (api.line.me).
	APIBase string `yaml:"api_base"`

	// DataBase serves message content downloads (api-data.line.me).
	DataBase string `yaml:"data_base"`

	// Timeout applies to reply/push/info calls. Content downloads use the
	// media pool's fetch timeout instead.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultLineConfig returns the built-in LINE API defaults.
func DefaultLineConfig() *LineConfig {
	return &LineConfig{
		APIBase:  "https://api.line.me",
		DataBase: "https://api-data.line.me",
		Timeout:  10 * time.Second,
	}
}

// WSConfig contains WebSocket handshake-token settings.
type WSConfig struct {
	// TokenSecretEnv names the environment variable holding the HMAC secret
	// used to mint and verify short-lived handshake tokens.
	TokenSecretEnv string `yaml:"token_secret_env"`

	// TokenTTL is how long a minted handshake token stays valid.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// TokenSecret resolves the token secret from the configured environment variable.
func (c *WSConfig) TokenSecret() string {
	return os.Getenv(c.TokenSecretEnv)
}

// DefaultWSConfig returns the built-in WebSocket defaults.
func DefaultWSConfig() *WSConfig {
	return &WSConfig{
		TokenSecretEnv: "WS_TOKEN_SECRET",
		TokenTTL:       60 * time.Second,
	}
}

// MediaConfig contains the async media fetch pool settings.
type MediaConfig struct {
	// Workers is the number of fetch goroutines.
	Workers int `yaml:"workers"`

	// QueueSize is the job channel capacity. Submissions beyond it are
	// dropped (and logged) so the webhook path never blocks.
	QueueSize int `yaml:"queue_size"`

	// PerBotInFlight caps concurrent fetches per bot so one spammy channel
	// cannot monopolize the pool.
	PerBotInFlight int `yaml:"per_bot_in_flight"`

	// FetchTimeout bounds one content download end to end.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// DefaultMediaConfig returns the built-in media pool defaults.
func DefaultMediaConfig() *MediaConfig {
	return &MediaConfig{
		Workers:        4,
		QueueSize:      256,
		PerBotInFlight: 3,
		FetchTimeout:   30 * time.Second,
	}
}
