package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Google      GoogleConfig      `yaml:"google"`
	Bedrock     BedrockConfig     `yaml:"bedrock"`
	Sync        SyncConfig        `yaml:"sync"`
	Suppression SuppressionConfig `yaml:"suppression"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis settings for the suppression cache and push marks
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// GoogleConfig holds OAuth client and webhook verification settings
type GoogleConfig struct {
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	PubSubTopic    string `yaml:"pubsub_topic"`
	PubSubAudience string `yaml:"pubsub_audience"` // webhook URL the push JWT is issued for
	WebhookSecret  string `yaml:"webhook_secret"`  // HMAC key for calendar channel tokens
	WebhookBaseURL string `yaml:"webhook_base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured per-RPC timeout as a duration
func (c GoogleConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BedrockConfig holds the LLM classifier settings
type BedrockConfig struct {
	ModelID        string `yaml:"model_id"`
	Region         string `yaml:"region"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured per-classifier-call timeout as a duration
func (c BedrockConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SyncConfig holds scheduler, debounce, and pipeline limits
type SyncConfig struct {
	DebounceMs           int   `yaml:"debounce_ms"`
	PollIntervalSeconds  int   `yaml:"poll_interval_seconds"`
	RenewIntervalSeconds int   `yaml:"renew_interval_seconds"`
	StaleAfterSeconds    int   `yaml:"stale_after_seconds"`
	RenewWithinHours     int   `yaml:"renew_within_hours"`
	MaxMessageBytes      int64 `yaml:"max_message_bytes"`
	HistoryPageSize      int64 `yaml:"history_page_size"`
}

// Debounce returns the webhook debounce window as a duration
func (c SyncConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// PollInterval returns the polling-fallback ticker interval
func (c SyncConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RenewInterval returns the watch-renewal ticker interval
func (c SyncConfig) RenewInterval() time.Duration {
	return time.Duration(c.RenewIntervalSeconds) * time.Second
}

// StaleAfter returns how old LastSyncAt may be before the poller steps in
func (c SyncConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

// RenewWithin returns the window before watch expiration that triggers renewal
func (c SyncConfig) RenewWithin() time.Duration {
	return time.Duration(c.RenewWithinHours) * time.Hour
}

// SuppressionConfig holds sender-domain suppression settings
type SuppressionConfig struct {
	Threshold       int `yaml:"threshold"`
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// CacheTTL returns the suppressed-domain cache TTL as a duration
func (c SuppressionConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Google.TimeoutSeconds == 0 {
		cfg.Google.TimeoutSeconds = 30
	}
	if cfg.Bedrock.ModelID == "" {
		cfg.Bedrock.ModelID = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}
	if cfg.Bedrock.TimeoutSeconds == 0 {
		cfg.Bedrock.TimeoutSeconds = 15
	}
	if cfg.Sync.DebounceMs == 0 {
		cfg.Sync.DebounceMs = 100
	}
	if cfg.Sync.PollIntervalSeconds == 0 {
		cfg.Sync.PollIntervalSeconds = 300
	}
	if cfg.Sync.RenewIntervalSeconds == 0 {
		cfg.Sync.RenewIntervalSeconds = 3600
	}
	if cfg.Sync.StaleAfterSeconds == 0 {
		cfg.Sync.StaleAfterSeconds = 360
	}
	if cfg.Sync.RenewWithinHours == 0 {
		cfg.Sync.RenewWithinHours = 24
	}
	if cfg.Sync.MaxMessageBytes == 0 {
		cfg.Sync.MaxMessageBytes = 200_000
	}
	if cfg.Sync.HistoryPageSize == 0 {
		cfg.Sync.HistoryPageSize = 20
	}
	if cfg.Suppression.Threshold == 0 {
		cfg.Suppression.Threshold = 3
	}
	if cfg.Suppression.CacheTTLSeconds == 0 {
		cfg.Suppression.CacheTTLSeconds = 300
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Google.ClientSecret = v
	}
	if v := os.Getenv("GOOGLE_PUBSUB_TOPIC"); v != "" {
		cfg.Google.PubSubTopic = v
	}
	if v := os.Getenv("GOOGLE_PUBSUB_AUDIENCE"); v != "" {
		cfg.Google.PubSubAudience = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Google.WebhookSecret = v
	}
	if v := os.Getenv("WEBHOOK_BASE_URL"); v != "" {
		cfg.Google.WebhookBaseURL = v
	}
	if v := os.Getenv("BEDROCK_MODEL_ID"); v != "" {
		cfg.Bedrock.ModelID = v
		cfg.Bedrock.Enabled = true
	}
	if v := os.Getenv("BEDROCK_REGION"); v != "" {
		cfg.Bedrock.Region = v
	}

	return cfg, nil
}
