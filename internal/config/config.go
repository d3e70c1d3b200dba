// Package config loads service configuration from defaults, an optional
// YAML file, a .env file and WEATHER_EDGE_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// WEATHER_EDGE_MODEL_API_KEY for model.api_key.
const EnvPrefix = "WEATHER_EDGE"

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Model      ModelConfig      `mapstructure:"model"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// PolymarketConfig holds Gamma API settings
type PolymarketConfig struct {
	APIBaseURL string        `mapstructure:"api_base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	PageSize   int           `mapstructure:"page_size"`
	MaxPages   int           `mapstructure:"max_pages"`
}

// CatalogConfig holds catalog cache settings
type CatalogConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
	VolumeFloor    float64       `mapstructure:"volume_floor"`
	WarmInterval   time.Duration `mapstructure:"warm_interval"`
	WarmEnabled    bool          `mapstructure:"warm_enabled"`
	DegradeEmpty   bool          `mapstructure:"degrade_empty"`
}

// ScoringConfig holds edge-score tier thresholds
type ScoringConfig struct {
	HighThreshold   float64 `mapstructure:"high_threshold"`
	MediumThreshold float64 `mapstructure:"medium_threshold"`
}

// ModelConfig holds LLM endpoint settings
type ModelConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Name         string        `mapstructure:"name"`
	DeepName     string        `mapstructure:"deep_name"`
	BasicTimeout time.Duration `mapstructure:"basic_timeout"`
	DeepTimeout  time.Duration `mapstructure:"deep_timeout"`
}

// AnalysisConfig holds analysis cache settings
type AnalysisConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	CacheMaxEntries int           `mapstructure:"cache_max_entries"`
}

// QuotaConfig limits deep analyses per client
type QuotaConfig struct {
	DeepPerClient  int           `mapstructure:"deep_per_client"`
	DeepPerNetwork int           `mapstructure:"deep_per_network"`
	Window         time.Duration `mapstructure:"window"`
}

// StorageConfig holds optional backing services. Empty URLs select the
// in-memory implementations.
type StorageConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration. path may be empty, in which case only defaults,
// .env and the environment are consulted.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional unprefixed names used by hosting platforms.
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("storage.database_url", EnvPrefix+"_STORAGE_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("storage.redis_url", EnvPrefix+"_STORAGE_REDIS_URL", "REDIS_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key needs a default for AutomaticEnv to see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.request_timeout", "120s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("polymarket.api_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.timeout", "15s")
	v.SetDefault("polymarket.page_size", 100)
	v.SetDefault("polymarket.max_pages", 20)

	v.SetDefault("catalog.ttl", "30m")
	v.SetDefault("catalog.refresh_timeout", "2m")
	v.SetDefault("catalog.volume_floor", 50000)
	v.SetDefault("catalog.warm_interval", "25m")
	v.SetDefault("catalog.warm_enabled", true)
	v.SetDefault("catalog.degrade_empty", false)

	v.SetDefault("scoring.high_threshold", 8)
	v.SetDefault("scoring.medium_threshold", 4)

	v.SetDefault("model.base_url", "https://api.venice.ai/api/v1")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.name", "qwen3-4b")
	v.SetDefault("model.deep_name", "qwen3-235b")
	v.SetDefault("model.basic_timeout", "30s")
	v.SetDefault("model.deep_timeout", "90s")

	v.SetDefault("analysis.cache_ttl", "3h")
	v.SetDefault("analysis.cache_max_entries", 5000)

	v.SetDefault("quota.deep_per_client", 20)
	v.SetDefault("quota.deep_per_network", 60)
	v.SetDefault("quota.window", "1h")

	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.redis_url", "")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.RequestTimeout < c.Model.DeepTimeout {
		return fmt.Errorf("server.request_timeout must be at least model.deep_timeout")
	}

	if c.Polymarket.APIBaseURL == "" {
		return fmt.Errorf("polymarket.api_base_url is required")
	}
	if c.Polymarket.Timeout <= 0 {
		return fmt.Errorf("polymarket.timeout must be positive")
	}
	if c.Polymarket.PageSize < 1 || c.Polymarket.PageSize > 500 {
		return fmt.Errorf("polymarket.page_size must be between 1 and 500")
	}
	if c.Polymarket.MaxPages < 1 {
		return fmt.Errorf("polymarket.max_pages must be at least 1")
	}

	if c.Catalog.TTL < 1*time.Minute {
		return fmt.Errorf("catalog.ttl must be at least 1 minute")
	}
	if c.Catalog.RefreshTimeout < 1*time.Second {
		return fmt.Errorf("catalog.refresh_timeout must be at least 1 second")
	}
	if c.Catalog.VolumeFloor < 0 {
		return fmt.Errorf("catalog.volume_floor must not be negative")
	}
	if c.Catalog.WarmEnabled && c.Catalog.WarmInterval < 1*time.Minute {
		return fmt.Errorf("catalog.warm_interval must be at least 1 minute")
	}

	if c.Scoring.MediumThreshold <= 0 || c.Scoring.HighThreshold <= c.Scoring.MediumThreshold {
		return fmt.Errorf("scoring thresholds must satisfy 0 < medium_threshold < high_threshold")
	}

	if c.Model.BaseURL == "" {
		return fmt.Errorf("model.base_url is required")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Model.BasicTimeout <= 0 || c.Model.DeepTimeout < c.Model.BasicTimeout {
		return fmt.Errorf("model timeouts must satisfy 0 < basic_timeout <= deep_timeout")
	}

	if c.Analysis.CacheTTL < 1*time.Minute {
		return fmt.Errorf("analysis.cache_ttl must be at least 1 minute")
	}
	if c.Analysis.CacheMaxEntries < 0 {
		return fmt.Errorf("analysis.cache_max_entries must not be negative")
	}

	if c.Quota.DeepPerClient < 0 || c.Quota.DeepPerNetwork < 0 {
		return fmt.Errorf("quota limits must not be negative")
	}
	if c.Quota.Window <= 0 {
		return fmt.Errorf("quota.window must be positive")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// NewLogger builds a slog logger for the configured level and format.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
