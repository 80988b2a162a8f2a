// Package config handles loading and validating fence configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for fence.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root. Default: ~/.fence/workspace. Override: FENCE_WORKSPACE env var.
	Server        ServerConfig         `json:"server" yaml:"server"`
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	RateLimit     RateLimitConfig      `json:"rate_limit" yaml:"rate_limit"`
	Session       SessionConfig        `json:"session" yaml:"session"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Upstream      UpstreamConfig       `json:"upstream" yaml:"upstream"`
	Logging       LoggingConfig        `json:"logging" yaml:"logging"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// ServerConfig configures the HTTP proxy front end.
type ServerConfig struct {
	ListenAddr      string `json:"listen_addr" yaml:"listen_addr"`             // Default: ":7187".
	MaxRequestBytes int64  `json:"max_request_bytes" yaml:"max_request_bytes"` // Default: 10 MB.
}

// SandboxConfig bounds sandboxed process execution.
type SandboxConfig struct {
	MaxCPUSeconds  int   `json:"max_cpu_seconds" yaml:"max_cpu_seconds"`   // Default: 5.
	MaxWallSeconds int   `json:"max_wall_seconds" yaml:"max_wall_seconds"` // Default: 30.
	MaxMemoryMB    int   `json:"max_memory_mb" yaml:"max_memory_mb"`       // Default: 50.
	MaxOutputBytes int64 `json:"max_output_bytes" yaml:"max_output_bytes"` // Default: 1 MB.
}

// RateLimitConfig bounds command executions per session.
type RateLimitConfig struct {
	MaxCalls      int `json:"max_calls" yaml:"max_calls"`           // Default: 30.
	WindowSeconds int `json:"window_seconds" yaml:"window_seconds"` // Default: 60.
}

// Window returns the rate limit window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	if r.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(r.WindowSeconds) * time.Second
}

// SessionConfig controls session lifecycle.
type SessionConfig struct {
	IdleTTLMinutes int    `json:"idle_ttl_minutes" yaml:"idle_ttl_minutes"` // Default: 60. 0 = sessions never expire.
	SweepSchedule  string `json:"sweep_schedule" yaml:"sweep_schedule"`     // Cron spec. Default: "@every 5m".
	RemoveOnExpiry bool   `json:"remove_on_expiry" yaml:"remove_on_expiry"` // Also delete the session's base directory.
}

// IdleTTL returns the idle expiry as a duration. 0 = never.
func (s SessionConfig) IdleTTL() time.Duration {
	if s.IdleTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(s.IdleTTLMinutes) * time.Minute
}

// ToolsConfig configures individual tool settings.
type ToolsConfig struct {
	MaxFileSizeBytes int64 `json:"max_file_size_bytes" yaml:"max_file_size_bytes"` // Default: 10 MB.
}

// UpstreamConfig points at the OpenAI-compatible backend the proxy forwards to.
type UpstreamConfig struct {
	BaseURL         string `json:"base_url" yaml:"base_url"` // e.g. "https://api.groq.com/openai/v1".
	APIKey          string `json:"api_key" yaml:"api_key"`   // Override: FENCE_UPSTREAM_API_KEY env var.
	Model           string `json:"model" yaml:"model"`       // Upstream model name requests are mapped to.
	MaxOutputTokens int    `json:"max_output_tokens" yaml:"max_output_tokens"` // Requested max_tokens is clamped to this. Default: 16384.
	TimeoutSeconds  int    `json:"timeout_seconds" yaml:"timeout_seconds"`     // Default: 120.
}

// Timeout returns the upstream HTTP timeout.
func (u UpstreamConfig) Timeout() time.Duration {
	if u.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // "debug", "info", "warn", "error". Default: "info".
	Format string `json:"format" yaml:"format"` // "text" or "json". Default: "text".
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "fence"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0-1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// DefaultConfigPath returns the default config file path (~/.fence/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/fence.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".fence", "config.yaml")
}

// Default returns a Config populated with defaults, usable without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. The upstream API key can be set in the config file or
// overridden by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
// Env vars take precedence over config file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FENCE_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("FENCE_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("FENCE_UPSTREAM_API_KEY"); v != "" {
		c.Upstream.APIKey = v
	}
	if v := os.Getenv("FENCE_UPSTREAM_BASE_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("FENCE_UPSTREAM_MODEL"); v != "" {
		c.Upstream.Model = v
	}
	if v := os.Getenv("FENCE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":7187"
	}
	if c.Server.MaxRequestBytes <= 0 {
		c.Server.MaxRequestBytes = 10 * 1024 * 1024
	}
	if c.Sandbox.MaxCPUSeconds <= 0 {
		c.Sandbox.MaxCPUSeconds = 5
	}
	if c.Sandbox.MaxWallSeconds <= 0 {
		c.Sandbox.MaxWallSeconds = 30
	}
	if c.Sandbox.MaxMemoryMB <= 0 {
		c.Sandbox.MaxMemoryMB = 50
	}
	if c.Sandbox.MaxOutputBytes <= 0 {
		c.Sandbox.MaxOutputBytes = 1024 * 1024
	}
	if c.RateLimit.MaxCalls == 0 {
		c.RateLimit.MaxCalls = 30
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.Session.IdleTTLMinutes == 0 {
		c.Session.IdleTTLMinutes = 60
	}
	if c.Session.SweepSchedule == "" {
		c.Session.SweepSchedule = "@every 5m"
	}
	if c.Tools.MaxFileSizeBytes <= 0 {
		c.Tools.MaxFileSizeBytes = 10 * 1024 * 1024
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://api.groq.com/openai/v1"
	}
	if c.Upstream.MaxOutputTokens <= 0 {
		c.Upstream.MaxOutputTokens = 16384
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	if c.RateLimit.MaxCalls < 0 {
		return fmt.Errorf("rate_limit.max_calls must not be negative")
	}
	if c.Sandbox.MaxMemoryMB < 0 {
		return fmt.Errorf("sandbox.max_memory_mb must not be negative")
	}
	if c.Sandbox.MaxWallSeconds < 0 {
		return fmt.Errorf("sandbox.max_wall_seconds must not be negative")
	}
	if c.Session.IdleTTLMinutes < 0 {
		return fmt.Errorf("session.idle_ttl_minutes must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported (use debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch c.Observability.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", c.Observability.Tracing.Protocol)
		}
	}
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
