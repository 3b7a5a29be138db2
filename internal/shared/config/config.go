package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Translation modes.
const (
	TranslationModeLiteral = "literal"
	TranslationModeExpand  = "expand"
)

// maxReferences is the hard limit on reference images per request.
const maxReferences = 4

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Studio     StudioConfig     `mapstructure:"studio"`
	HTTPClient HTTPClientConfig `mapstructure:"http_client"`
	Session    SessionConfig    `mapstructure:"session"`
	Download   DownloadConfig   `mapstructure:"download"`
	Redis      RedisConfig      `mapstructure:"redis"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// RemoteConfig describes the chat-completion endpoint shared by translation and generation.
type RemoteConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	TranslationModel    string        `mapstructure:"translation_model"`
	TranslationMode     string        `mapstructure:"translation_mode"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	FailureThreshold    uint32        `mapstructure:"failure_threshold"`
	CircuitTimeout      time.Duration `mapstructure:"circuit_timeout"`
}

// StudioConfig holds generation pipeline limits.
type StudioConfig struct {
	PacingDelay    time.Duration `mapstructure:"pacing_delay"`
	MaxReferences  int           `mapstructure:"max_references"`
	MaxCount       int           `mapstructure:"max_count"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	DefaultPrompt  string        `mapstructure:"default_prompt"`
}

// HTTPClientConfig holds outbound HTTP client configuration.
type HTTPClientConfig struct {
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	KeepAlive           time.Duration `mapstructure:"keep_alive"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseTimeout     time.Duration `mapstructure:"response_timeout"` // 0 disables the overall timeout
}

// SessionConfig holds session lifetime configuration.
type SessionConfig struct {
	IdleTTL         time.Duration `mapstructure:"idle_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// DownloadConfig holds download relay configuration.
type DownloadConfig struct {
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	CachePrefix string        `mapstructure:"cache_prefix"`
	MaxBytes    int64         `mapstructure:"max_bytes"`
}

// RedisConfig holds Redis configuration. An empty address disables Redis.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CORSConfig holds CORS configuration for the external UI.
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/wuhu")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("WUHU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if password := os.Getenv("WUHU_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values that would break the pipeline.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	switch c.Remote.TranslationMode {
	case TranslationModeLiteral, TranslationModeExpand:
	default:
		return fmt.Errorf("remote.translation_mode must be %q or %q, got %q",
			TranslationModeLiteral, TranslationModeExpand, c.Remote.TranslationMode)
	}
	if c.Studio.PacingDelay < 0 {
		return fmt.Errorf("studio.pacing_delay must not be negative")
	}
	if c.Studio.MaxReferences < 1 || c.Studio.MaxReferences > maxReferences {
		return fmt.Errorf("studio.max_references must be between 1 and %d", maxReferences)
	}
	if c.Studio.MaxCount < 1 {
		return fmt.Errorf("studio.max_count must be at least 1")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults; a run of max_count generations is served synchronously
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	// Remote endpoint defaults
	v.SetDefault("remote.base_url", "https://newapi.pockgo.com")
	v.SetDefault("remote.translation_model", "gemini-2.5-flash")
	v.SetDefault("remote.translation_mode", TranslationModeLiteral)
	v.SetDefault("remote.health_check_interval", 30*time.Second)
	v.SetDefault("remote.failure_threshold", 3)
	v.SetDefault("remote.circuit_timeout", 60*time.Second)

	// Studio defaults
	v.SetDefault("studio.pacing_delay", 2*time.Second)
	v.SetDefault("studio.max_references", 4)
	v.SetDefault("studio.max_count", 8)
	v.SetDefault("studio.max_upload_bytes", 32<<20)
	v.SetDefault("studio.default_prompt", "一只在太空中吃香蕉的纳米猴子")

	// HTTP client defaults
	v.SetDefault("http_client.dial_timeout", 30*time.Second)
	v.SetDefault("http_client.keep_alive", 30*time.Second)
	v.SetDefault("http_client.max_idle_conns", 100)
	v.SetDefault("http_client.max_idle_conns_per_host", 10)
	v.SetDefault("http_client.max_conns_per_host", 0)
	v.SetDefault("http_client.idle_conn_timeout", 90*time.Second)
	v.SetDefault("http_client.tls_handshake_timeout", 10*time.Second)
	v.SetDefault("http_client.response_timeout", 0)

	// Session defaults
	v.SetDefault("session.idle_ttl", 2*time.Hour)
	v.SetDefault("session.cleanup_interval", 5*time.Minute)

	// Download defaults
	v.SetDefault("download.cache_ttl", 30*time.Minute)
	v.SetDefault("download.cache_prefix", "wuhu:dl:")
	v.SetDefault("download.max_bytes", 64<<20)

	// Redis defaults (disabled)
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.db", 0)

	// CORS defaults
	v.SetDefault("cors.allow_origins", []string{"*"})

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
