package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Sandbox   SandboxConfig       `mapstructure:"sandbox"`
	Languages map[string]Language `mapstructure:"languages"`
	RateLimit RateLimitConfig     `mapstructure:"ratelimit"`
	NATS      NATSConfig          `mapstructure:"nats"`
	Logging   LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPAddr     string `mapstructure:"http_addr"`
	MCPTransport string `mapstructure:"mcp_transport"`
	MCPHTTPPort  int    `mapstructure:"mcp_http_port"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Backend         string   `mapstructure:"backend"`
	ScratchRoot     string   `mapstructure:"scratch_root"`
	TimeoutSec      int      `mapstructure:"timeout_sec"`
	MemoryMB        int      `mapstructure:"memory_mb"`
	CPUSet          string   `mapstructure:"cpuset"`
	PidsLimit       int64    `mapstructure:"pids_limit"`
	MaxOutputKB     int      `mapstructure:"max_output_kb"`
	User            string   `mapstructure:"user"`
	Workdir         string   `mapstructure:"workdir"`
	StrictLanguages bool     `mapstructure:"strict_languages"`
	DockerHosts     []string `mapstructure:"docker_hosts"`
	JanitorInterval int      `mapstructure:"janitor_interval_sec"`
}

// Language holds per-language overrides
type Language struct {
	Image string `mapstructure:"image"`
}

// RateLimitConfig bounds admission on the HTTP API
type RateLimitConfig struct {
	RPS           float64 `mapstructure:"rps"`
	Burst         int     `mapstructure:"burst"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
}

// NATSConfig configures the optional NATS responder. An empty URL disables it.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Queue   string `mapstructure:"queue"`
	Workers int    `mapstructure:"workers"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// EnvPrefix is the prefix for environment overrides, e.g. CODERUN_SANDBOX_TIMEOUT_SEC.
const EnvPrefix = "CODERUN"

// New loads and validates the application configuration from ./config.yaml
// or ./config/config.yaml, a .env file and CODERUN_* environment variables.
func New() (*Config, error) {
	return Load("")
}

// Load is New with an explicit config file path. An empty path searches the
// default locations.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8000")
	v.SetDefault("server.mcp_transport", "disabled")
	v.SetDefault("server.mcp_http_port", 8081)

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.scratch_root", "/tmp/coderun/workspaces")
	v.SetDefault("sandbox.timeout_sec", 10)
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.cpuset", "0")
	v.SetDefault("sandbox.pids_limit", 64)
	v.SetDefault("sandbox.max_output_kb", 64)
	v.SetDefault("sandbox.user", "coder")
	v.SetDefault("sandbox.workdir", "/app")
	v.SetDefault("sandbox.strict_languages", true)
	v.SetDefault("sandbox.docker_hosts", []string{
		"env",
		"unix:///var/run/docker.sock",
		"npipe:////./pipe/docker_engine",
	})
	v.SetDefault("sandbox.janitor_interval_sec", 300)

	v.SetDefault("languages.python.image", "python-runner")
	v.SetDefault("languages.java.image", "java-runner")
	v.SetDefault("languages.cpp.image", "cpp-runner")

	v.SetDefault("ratelimit.rps", 20)
	v.SetDefault("ratelimit.burst", 40)
	v.SetDefault("ratelimit.max_concurrent", 8)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "coderun.run")
	v.SetDefault("nats.queue", "coderun")
	v.SetDefault("nats.workers", 4)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	switch c.Server.MCPTransport {
	case "stdio", "http", "disabled":
	default:
		return fmt.Errorf("invalid server.mcp_transport: %s, must be 'stdio', 'http' or 'disabled'", c.Server.MCPTransport)
	}

	if c.Sandbox.Backend != "docker" && c.Sandbox.Backend != "podman" {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if !filepath.IsAbs(c.Sandbox.ScratchRoot) {
		return fmt.Errorf("sandbox.scratch_root must be an absolute path, got: %q", c.Sandbox.ScratchRoot)
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.MaxOutputKB <= 0 {
		return fmt.Errorf("sandbox.max_output_kb must be positive, got: %d", c.Sandbox.MaxOutputKB)
	}

	if c.Sandbox.Backend == "docker" && len(c.Sandbox.DockerHosts) == 0 {
		return errors.New("sandbox.docker_hosts must list at least one transport")
	}

	if c.RateLimit.MaxConcurrent <= 0 {
		return fmt.Errorf("ratelimit.max_concurrent must be positive, got: %d", c.RateLimit.MaxConcurrent)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// LanguageImages returns the configured image override per language id.
func (c *Config) LanguageImages() map[string]string {
	images := make(map[string]string, len(c.Languages))
	for id, lang := range c.Languages {
		if lang.Image != "" {
			images[id] = lang.Image
		}
	}
	return images
}
