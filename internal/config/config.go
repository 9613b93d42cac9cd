// Package config loads and validates crawlworker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Session  SessionConfig  `mapstructure:"session"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the dev/ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs pipeline behavior.
type CrawlerConfig struct {
	UserAgent   string `mapstructure:"user_agent"`
	MaxFanOut   int    `mapstructure:"max_fan_out"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	QueueDepth  int    `mapstructure:"queue_depth"`
}

// HTTPConfig configures fetch behavior in the session manager.
type HTTPConfig struct {
	TimeoutSeconds   int  `mapstructure:"timeout_seconds"`
	MaxRetries       int  `mapstructure:"max_retries"`
	BackoffInitialMs int  `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int  `mapstructure:"backoff_max_ms"`
	MaxBodyBytes     int  `mapstructure:"max_body_bytes"`
	MaxRedirects     int  `mapstructure:"max_redirects"`
	MaxParallel      int  `mapstructure:"max_parallel"`
	RespectRobots    bool `mapstructure:"respect_robots"`
}

// RulesConfig locates extraction rule documents.
type RulesConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig sets blob persistence parameters.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the dedup state database.
type DBConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MinOpenConns int    `mapstructure:"min_open_conns"`
}

// QueueConfig names the task queue resources.
type QueueConfig struct {
	Provider     string `mapstructure:"provider"`
	ProjectID    string `mapstructure:"project_id"`
	TopicID      string `mapstructure:"topic_id"`
	Subscription string `mapstructure:"subscription"`
}

// SessionConfig controls session snapshot persistence.
type SessionConfig struct {
	Provider   string `mapstructure:"provider"`
	RedisAddr  string `mapstructure:"redis_addr"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
}

// ThrottleConfig controls the shared throttle block cache.
type ThrottleConfig struct {
	Provider     string `mapstructure:"provider"`
	MemcacheAddr string `mapstructure:"memcache_addr"`
	BlockSeconds int    `mapstructure:"block_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLWORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (compatible; govscout/0.1)")
	v.SetDefault("crawler.max_fan_out", 50)
	v.SetDefault("crawler.max_attempts", 5)
	v.SetDefault("crawler.queue_depth", 256)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("http.max_parallel", 2)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("rules.dir", "rules")
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "records")
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.table", "dedup_state")
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("db.min_open_conns", 1)
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("session.provider", "memory")
	v.SetDefault("session.key_prefix", "session:")
	v.SetDefault("session.ttl_minutes", 30)
	v.SetDefault("throttle.provider", "memory")
	v.SetDefault("throttle.block_seconds", 300)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxFanOut <= 0 {
		return fmt.Errorf("crawler.max_fan_out must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be > 0")
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	switch c.Queue.Provider {
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.TopicID == "" {
			return fmt.Errorf("queue.project_id and queue.topic_id must be set when queue.provider is pubsub")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown queue.provider %q", c.Queue.Provider)
	}
	switch c.Session.Provider {
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr must be set when session.provider is redis")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown session.provider %q", c.Session.Provider)
	}
	switch c.Throttle.Provider {
	case "memcache":
		if c.Throttle.MemcacheAddr == "" {
			return fmt.Errorf("throttle.memcache_addr must be set when throttle.provider is memcache")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown throttle.provider %q", c.Throttle.Provider)
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// SessionTTL converts the session TTL into a duration.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}
