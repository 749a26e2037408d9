// ABOUTME: Configuration loading and parsing for coven-chat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty in the config file.
const (
	DefaultMaxSteps              = 10
	DefaultToolConnectTimeout    = 30 * time.Second
	DefaultToolCallTimeout       = 60 * time.Second
	DefaultMaxConcurrentConnects = 8
	DefaultCacheTTL              = 5 * time.Minute
	DefaultCacheMaxSize          = 10_000
	DefaultFallbackModel         = "gpt-4o-mini"
)

// Config represents the complete coven-chat configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Chat      ChatConfig      `yaml:"chat" toml:"chat"`
	Fallback  FallbackConfig  `yaml:"fallback" toml:"fallback"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
	RateLimit RateLimitConfig `yaml:"ratelimit" toml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// ChatConfig controls the generation loop and per-request tool servers.
type ChatConfig struct {
	MaxSteps              int    `yaml:"max_steps" toml:"max_steps"`
	SystemPrompt          string `yaml:"system_prompt" toml:"system_prompt"`
	MaxConcurrentConnects int    `yaml:"max_concurrent_connects" toml:"max_concurrent_connects"`

	ToolConnectTimeout time.Duration `yaml:"-" toml:"-"`
	ToolCallTimeout    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ToolConnectTimeoutRaw string `yaml:"tool_connect_timeout" toml:"tool_connect_timeout"`
	ToolCallTimeoutRaw    string `yaml:"tool_call_timeout" toml:"tool_call_timeout"`
}

// FallbackConfig names the model used when a provider family is not recognized.
type FallbackConfig struct {
	Model   string `yaml:"model" toml:"model"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// CacheConfig sizes the catalog access cache
type CacheConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	TTLRaw  string        `yaml:"ttl" toml:"ttl"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`
}

// RateLimitConfig holds the per-user request limit. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills zero values with the package defaults.
func (c *Config) applyDefaults() {
	if c.Chat.MaxSteps == 0 {
		c.Chat.MaxSteps = DefaultMaxSteps
	}
	if c.Chat.ToolConnectTimeout == 0 {
		c.Chat.ToolConnectTimeout = DefaultToolConnectTimeout
	}
	if c.Chat.ToolCallTimeout == 0 {
		c.Chat.ToolCallTimeout = DefaultToolCallTimeout
	}
	if c.Chat.MaxConcurrentConnects == 0 {
		c.Chat.MaxConcurrentConnects = DefaultMaxConcurrentConnects
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = DefaultCacheMaxSize
	}
	if c.Fallback.Model == "" {
		c.Fallback.Model = DefaultFallbackModel
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Chat.MaxSteps < 1 {
		return fmt.Errorf("chat.max_steps must be at least 1, got %d", c.Chat.MaxSteps)
	}

	if c.Chat.MaxConcurrentConnects < 1 {
		return fmt.Errorf("chat.max_concurrent_connects must be at least 1, got %d", c.Chat.MaxConcurrentConnects)
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit values must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		return fmt.Errorf("ratelimit.burst is required when requests_per_second is set")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Chat.ToolConnectTimeoutRaw != "" {
		cfg.Chat.ToolConnectTimeout, err = time.ParseDuration(cfg.Chat.ToolConnectTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing tool_connect_timeout %q: %w", cfg.Chat.ToolConnectTimeoutRaw, err)
		}
	}

	if cfg.Chat.ToolCallTimeoutRaw != "" {
		cfg.Chat.ToolCallTimeout, err = time.ParseDuration(cfg.Chat.ToolCallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing tool_call_timeout %q: %w", cfg.Chat.ToolCallTimeoutRaw, err)
		}
	}

	if cfg.Cache.TTLRaw != "" {
		cfg.Cache.TTL, err = time.ParseDuration(cfg.Cache.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache ttl %q: %w", cfg.Cache.TTLRaw, err)
		}
	}

	return nil
}
