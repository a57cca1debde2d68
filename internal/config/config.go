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

// Storage backends understood by DatabaseConfig.Backend
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

// Completion providers understood by CompletionConfig.Provider
const (
	ProviderOpenAI = "openai"
	ProviderEcho   = "echo"
)

// Config represents the complete coven-chat configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Completion CompletionConfig `yaml:"completion" toml:"completion"`
	WebUI      WebUIConfig      `yaml:"webui" toml:"webui"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig selects and configures the conversation store backend
type DatabaseConfig struct {
	Backend string      `yaml:"backend" toml:"backend"` // memory, sqlite, bolt, redis
	Driver  string      `yaml:"driver" toml:"driver"`   // sqlite (pure Go) or sqlite3 (cgo); sqlite backend only
	Path    string      `yaml:"path" toml:"path"`       // database file for sqlite and bolt
	Redis   RedisConfig `yaml:"redis" toml:"redis"`
}

// RedisConfig holds connection settings for the redis backend
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
}

// CompletionConfig configures the service that produces assistant replies
type CompletionConfig struct {
	Provider     string   `yaml:"provider" toml:"provider"`
	Model        string   `yaml:"model" toml:"model"`
	APIKey       string   `yaml:"api_key" toml:"api_key"`
	BaseURL      string   `yaml:"base_url" toml:"base_url"`
	Stream       bool     `yaml:"stream" toml:"stream"`
	SystemPrompt string   `yaml:"system_prompt" toml:"system_prompt"`
	MaxTokens    int      `yaml:"max_tokens" toml:"max_tokens"`
	Temperature  *float32 `yaml:"temperature" toml:"temperature"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// WebUIConfig holds web chat shell configuration
type WebUIConfig struct {
	// SessionSecret signs session cookies. A random secret is generated at
	// startup when empty, which invalidates sessions across restarts.
	SessionSecret string `yaml:"session_secret" toml:"session_secret"`
	DedupeSize    int    `yaml:"dedupe_size" toml:"dedupe_size"`

	SessionIdleTimeout time.Duration `yaml:"-" toml:"-"`
	DedupeWindow       time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	SessionIdleTimeoutRaw string `yaml:"session_idle_timeout" toml:"session_idle_timeout"`
	DedupeWindowRaw       string `yaml:"dedupe_window" toml:"dedupe_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration that runs without any external service:
// in-memory storage and the echo completer.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: "127.0.0.1:8080"},
		Database: DatabaseConfig{
			Backend: BackendMemory,
			Driver:  "sqlite",
			Redis:   RedisConfig{Addr: "127.0.0.1:6379", Prefix: "coven-chat"},
		},
		Completion: CompletionConfig{
			Provider: ProviderEcho,
			Model:    "gpt-4o-mini",
			Stream:   true,
			Timeout:  60 * time.Second,
		},
		WebUI: WebUIConfig{
			DedupeSize:         10000,
			SessionIdleTimeout: 30 * time.Minute,
			DedupeWindow:       time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded first, and
// unset fields keep the values from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite backend")
		}
		if c.Database.Driver != "sqlite" && c.Database.Driver != "sqlite3" {
			return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
		}
	case BackendBolt:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the bolt backend")
		}
	case BackendRedis:
		if c.Database.Redis.Addr == "" {
			return fmt.Errorf("database.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("database.backend must be one of memory, sqlite, bolt, redis, got %q", c.Database.Backend)
	}

	switch c.Completion.Provider {
	case ProviderEcho:
	case ProviderOpenAI:
		if c.Completion.APIKey == "" {
			return fmt.Errorf("completion.api_key is required for the openai provider")
		}
		if c.Completion.Model == "" {
			return fmt.Errorf("completion.model is required for the openai provider")
		}
	default:
		return fmt.Errorf("completion.provider must be openai or echo, got %q", c.Completion.Provider)
	}

	if c.Completion.MaxTokens < 0 {
		return fmt.Errorf("completion.max_tokens must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Completion.TimeoutRaw != "" {
		cfg.Completion.Timeout, err = time.ParseDuration(cfg.Completion.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing completion.timeout %q: %w", cfg.Completion.TimeoutRaw, err)
		}
	}

	if cfg.WebUI.SessionIdleTimeoutRaw != "" {
		cfg.WebUI.SessionIdleTimeout, err = time.ParseDuration(cfg.WebUI.SessionIdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing webui.session_idle_timeout %q: %w", cfg.WebUI.SessionIdleTimeoutRaw, err)
		}
	}

	if cfg.WebUI.DedupeWindowRaw != "" {
		cfg.WebUI.DedupeWindow, err = time.ParseDuration(cfg.WebUI.DedupeWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing webui.dedupe_window %q: %w", cfg.WebUI.DedupeWindowRaw, err)
		}
	}

	return nil
}
