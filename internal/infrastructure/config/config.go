package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Dialog    DialogConfig    `mapstructure:"dialog"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Dedupe    DedupeConfig    `mapstructure:"dedupe"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scenarios ScenarioConfig  `mapstructure:"scenarios"`
	Log       LogConfig       `mapstructure:"log"`
}

// GatewayConfig configures the HTTP intake server.
type GatewayConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Mode      string `mapstructure:"mode"`       // local, production
	QueueSize int    `mapstructure:"queue_size"` // webhook work queue capacity
	Workers   int    `mapstructure:"workers"`    // event worker pool size
}

// WebhookConfig controls how webhook URLs are built and verified.
type WebhookConfig struct {
	Domain        string        `mapstructure:"domain"` // WEBHOOK_DOMAIN
	UseNgrok      bool          `mapstructure:"use_ngrok"`
	NgrokPort     int           `mapstructure:"ngrok_port"`
	CheckInterval time.Duration `mapstructure:"check_interval"` // monitor period
}

// DialogConfig holds the event pipeline budgets.
type DialogConfig struct {
	EventTimeout          time.Duration `mapstructure:"event_timeout"`            // DIALOG_EVENT_TIMEOUT
	LockTimeout           time.Duration `mapstructure:"lock_timeout"`             // CONVERSATION_LOCK_TIMEOUT
	AutoTransitionMax     int           `mapstructure:"auto_transition_max"`      // AUTO_TRANSITION_MAX_STEPS
	MaxSendRetries        int           `mapstructure:"max_send_retries"`         // MAX_SEND_RETRIES
	MaxConflictRetries    int           `mapstructure:"max_conflict_retries"`     // state version conflicts
	HistoryBufferCapacity int           `mapstructure:"history_buffer_capacity"` // per-dialog buffered entries before forced flush
}

// CacheConfig bounds the state cache.
type CacheConfig struct {
	StateSize int           `mapstructure:"state_size"` // STATE_CACHE_SIZE
	StateTTL  time.Duration `mapstructure:"state_ttl"`
	MediaSize int           `mapstructure:"media_size"`
}

// DedupeConfig bounds the webhook seen set and the click debounce.
type DedupeConfig struct {
	SeenSize int           `mapstructure:"seen_size"` // SEEN_SET_SIZE, per bot
	SeenTTL  time.Duration `mapstructure:"seen_ttl"`
	Window   time.Duration `mapstructure:"window"` // DUPLICATE_WINDOW_MS
}

// RateLimitConfig is the per-chat token bucket.
type RateLimitConfig struct {
	Tokens       int     `mapstructure:"tokens"`         // RATE_TOKENS
	RefillPerSec float64 `mapstructure:"refill_per_sec"` // RATE_REFILL_PER_SEC
}

// DatabaseConfig selects the gorm backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// RedisConfig points the validator side store at a Redis-class server.
// Empty Addr disables the side store; the validator then runs on its
// local fallback only.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ScenarioConfig configures the local scenario hot-loader.
type ScenarioConfig struct {
	Dir   string `mapstructure:"dir"`   // directory of scenario JSON files
	Watch bool   `mapstructure:"watch"` // fsnotify hot reload
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration in layers: defaults, then the global
// ~/.dialogforge/config.yaml, then a project-local config.yaml, then
// DIALOGFORGE_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".dialogforge")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	// Project-local overlay, first match wins.
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("DIALOGFORGE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults mirrors the indicative defaults in the operational contract.
func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 18890)
	v.SetDefault("gateway.mode", "local")
	v.SetDefault("gateway.queue_size", 1024)
	v.SetDefault("gateway.workers", 16)

	v.SetDefault("webhook.use_ngrok", false)
	v.SetDefault("webhook.ngrok_port", 4040)
	v.SetDefault("webhook.check_interval", "10m")

	v.SetDefault("dialog.event_timeout", "20s")
	v.SetDefault("dialog.lock_timeout", "5s")
	v.SetDefault("dialog.auto_transition_max", 16)
	v.SetDefault("dialog.max_send_retries", 3)
	v.SetDefault("dialog.max_conflict_retries", 3)
	v.SetDefault("dialog.history_buffer_capacity", 64)

	v.SetDefault("cache.state_size", 2048)
	v.SetDefault("cache.state_ttl", "30m")
	v.SetDefault("cache.media_size", 512)

	v.SetDefault("dedupe.seen_size", 1024)
	v.SetDefault("dedupe.seen_ttl", "10m")
	v.SetDefault("dedupe.window", "1500ms")

	v.SetDefault("ratelimit.tokens", 5)
	v.SetDefault("ratelimit.refill_per_sec", 1.0)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "dialogforge.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("scenarios.dir", "")
	v.SetDefault("scenarios.watch", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
