package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultProvider         = "claude"
	DefaultModel            = "claude-sonnet-4-20250514"
	DefaultMaxChars         = 15000
	DefaultBatchMaxTokens   = 4000
	DefaultChatMaxTokens    = 2000
	DefaultServiceTimeout   = 2 * time.Minute
	DefaultSessionTTL       = 60 * time.Minute
	DefaultMaxSessions      = 1000
	DefaultMaxFileBytes     = 20 << 20
	DefaultCallsPerMinute   = 10
	DefaultExtractorWorkers = 4
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config" toml:"basic_config"`
	Provider    string                    `json:"provider" yaml:"provider" toml:"provider"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers" toml:"providers"`
	Analysis    AnalysisConfig            `json:"analysis" yaml:"analysis" toml:"analysis"`
	Redis       RedisConfig               `json:"redis" yaml:"redis" toml:"redis"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Model   string `json:"model" yaml:"model" toml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key" toml:"api_key"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address" toml:"server_address"`
	MaxFileBytes  int64  `json:"max_file_bytes" yaml:"max_file_bytes" toml:"max_file_bytes"`
	MaxChars      int    `json:"max_chars" yaml:"max_chars" toml:"max_chars"`
	// Minutes.
	SessionTTL       int `json:"session_ttl" yaml:"session_ttl" toml:"session_ttl"`
	MaxSessions      int `json:"max_sessions" yaml:"max_sessions" toml:"max_sessions"`
	ExtractorWorkers int `json:"extractor_workers" yaml:"extractor_workers" toml:"extractor_workers"`
	// Seconds.
	ServiceTimeout int `json:"service_timeout" yaml:"service_timeout" toml:"service_timeout"`
	CallsPerMinute int `json:"calls_per_minute" yaml:"calls_per_minute" toml:"calls_per_minute"`
}

type AnalysisConfig struct {
	BatchMaxTokens int `json:"batch_max_tokens" yaml:"batch_max_tokens" toml:"batch_max_tokens"`
	ChatMaxTokens  int `json:"chat_max_tokens" yaml:"chat_max_tokens" toml:"chat_max_tokens"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DB       int    `json:"db" yaml:"db" toml:"db"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; defaults and environment apply.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := decode(absPath, data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".json", "":
		err = json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ARIA_ADDR"); v != "" {
		c.BasicConfig.ServerAddress = v
	}
	if v := os.Getenv("ARIA_PROVIDER"); v != "" {
		c.Provider = v
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	keys := map[string]string{
		"claude": "ANTHROPIC_API_KEY",
		"openai": "OPENAI_API_KEY",
		"gemini": "GEMINI_API_KEY",
	}
	for name, env := range keys {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		p := c.Providers[name]
		if p.APIKey == "" {
			p.APIKey = v
		}
		c.Providers[name] = p
	}
	if v := os.Getenv("ARIA_MODEL"); v != "" {
		name := c.Provider
		if name == "" {
			name = DefaultProvider
		}
		p := c.Providers[name]
		p.Model = v
		c.Providers[name] = p
	}
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.MaxFileBytes <= 0 {
		c.BasicConfig.MaxFileBytes = DefaultMaxFileBytes
	}
	if c.BasicConfig.MaxChars <= 0 {
		c.BasicConfig.MaxChars = DefaultMaxChars
	}
	if c.BasicConfig.SessionTTL <= 0 {
		c.BasicConfig.SessionTTL = int(DefaultSessionTTL / time.Minute)
	}
	if c.BasicConfig.MaxSessions <= 0 {
		c.BasicConfig.MaxSessions = DefaultMaxSessions
	}
	if c.BasicConfig.ExtractorWorkers <= 0 {
		c.BasicConfig.ExtractorWorkers = DefaultExtractorWorkers
	}
	if c.BasicConfig.ServiceTimeout <= 0 {
		c.BasicConfig.ServiceTimeout = int(DefaultServiceTimeout / time.Second)
	}
	if c.BasicConfig.CallsPerMinute <= 0 {
		c.BasicConfig.CallsPerMinute = DefaultCallsPerMinute
	}
	if c.Analysis.BatchMaxTokens <= 0 {
		c.Analysis.BatchMaxTokens = DefaultBatchMaxTokens
	}
	if c.Analysis.ChatMaxTokens <= 0 {
		c.Analysis.ChatMaxTokens = DefaultChatMaxTokens
	}
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	p := c.Providers[c.Provider]
	if p.Model == "" && c.Provider == DefaultProvider {
		p.Model = DefaultModel
	}
	c.Providers[c.Provider] = p
}

// Validate reports configuration that cannot produce a working service.
func (c *Config) Validate() error {
	switch c.Provider {
	case "claude", "openai", "gemini":
	default:
		return fmt.Errorf("invalid provider: %s", c.Provider)
	}
	if c.Providers[c.Provider].Model == "" {
		return fmt.Errorf("model must be configured for provider %s", c.Provider)
	}
	return nil
}

// Active returns the settings of the selected provider.
func (c *Config) Active() ProviderConfig {
	return c.Providers[c.Provider]
}

func (c *Config) ServiceTimeout() time.Duration {
	return time.Duration(c.BasicConfig.ServiceTimeout) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.BasicConfig.SessionTTL) * time.Minute
}
