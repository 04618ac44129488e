package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/yanghanggit/ai-trpg-sub001/trpg"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	MCP     MCPConfig     `mapstructure:"mcp"`
	Harness HarnessConfig `mapstructure:"harness"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
}

// MCPConfig stores the tool-host connection settings.
type MCPConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Endpoint        string        `mapstructure:"endpoint"`         // JSON-RPC endpoint path
	HealthEndpoint  string        `mapstructure:"health_endpoint"`  // ping endpoint path
	ProtocolVersion string        `mapstructure:"protocol_version"` // MCP-Protocol-Version header
	Timeout         time.Duration `mapstructure:"timeout"`          // per HTTP request
	ClientName      string        `mapstructure:"client_name"`
	ClientVersion   string        `mapstructure:"client_version"`
}

// HarnessConfig stores orchestration and tool execution settings.
type HarnessConfig struct {
	// Execution
	ToolTimeout     time.Duration `mapstructure:"tool_timeout"`      // per attempt
	MaxRetries      int           `mapstructure:"max_retries"`       // additional attempts after the first
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`     // first backoff step
	RetryMaxBackoff time.Duration `mapstructure:"retry_max_backoff"` // backoff ceiling
	ToolConcurrency int           `mapstructure:"tool_concurrency"`  // 0 runs every call at once

	// Safety and validation
	AllowedTools []string `mapstructure:"allowed_tools"` // empty allows every listed tool
	StrictSchema bool     `mapstructure:"strict_schema"` // full JSON schema validation of arguments

	// Rate limiting
	RateLimitEnabled   bool    `mapstructure:"rate_limit_enabled"`
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"`
}

// LLMConfig stores chat model backend settings.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"` // "openai" | "anthropic"
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

// AuditConfig stores the optional tool execution audit store settings.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"` // path to the embedded libsql file
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" | "json"
}

// ServerConfig stores settings for the bundled sample tool host.
type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	SSE     bool   `mapstructure:"sse"` // answer JSON-RPC requests as event streams
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.AutomaticEnv()
	// mcp.base_url becomes TRPG_MCP_BASE_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file on the search path; defaults and env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// MCP transport
	v.SetDefault("mcp.base_url", internal.DefaultMCPBaseURL)
	v.SetDefault("mcp.endpoint", internal.DefaultMCPEndpoint)
	v.SetDefault("mcp.health_endpoint", internal.DefaultHealthEndpoint)
	v.SetDefault("mcp.protocol_version", internal.DefaultProtocolVersion)
	v.SetDefault("mcp.timeout", "30s")
	v.SetDefault("mcp.client_name", internal.DefaultClientName)
	v.SetDefault("mcp.client_version", internal.DefaultClientVersion)

	// Harness
	v.SetDefault("harness.tool_timeout", "30s")
	v.SetDefault("harness.max_retries", 2)
	v.SetDefault("harness.retry_backoff", "1s")
	v.SetDefault("harness.retry_max_backoff", "5s")
	v.SetDefault("harness.tool_concurrency", 0)
	v.SetDefault("harness.allowed_tools", []string{})
	v.SetDefault("harness.strict_schema", false)
	v.SetDefault("harness.rate_limit_enabled", false)
	v.SetDefault("harness.rate_limit_per_second", 1.0)
	v.SetDefault("harness.rate_limit_burst", 5)
	v.SetDefault("harness.enable_tracing", true)

	// LLM (DeepSeek speaks the OpenAI wire format)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.7)

	// Audit
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.dsn", internal.DefaultAuditDSN)

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Sample server
	v.SetDefault("server.addr", internal.DefaultServerAddr)
	v.SetDefault("server.name", "sample-mcp-server")
	v.SetDefault("server.version", "1.0.0")
	v.SetDefault("server.sse", false)
}
