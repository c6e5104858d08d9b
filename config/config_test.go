package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:     ":8000",
			MCPTransport: "disabled",
			MCPHTTPPort:  8081,
		},
		Sandbox: SandboxConfig{
			Backend:         "docker",
			ScratchRoot:     "/tmp/coderun/workspaces",
			TimeoutSec:      10,
			MemoryMB:        256,
			CPUSet:          "0",
			PidsLimit:       64,
			MaxOutputKB:     64,
			User:            "coder",
			Workdir:         "/app",
			StrictLanguages: true,
			DockerHosts:     []string{"env"},
		},
		Languages: map[string]Language{
			"python": {Image: "python-runner"},
		},
		RateLimit: RateLimitConfig{RPS: 10, Burst: 20, MaxConcurrent: 4},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, validConfig().validate())
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"InvalidMCPTransport", func(c *Config) { c.Server.MCPTransport = "websocket" }, "invalid server.mcp_transport"},
		{"InvalidBackend", func(c *Config) { c.Sandbox.Backend = "local" }, "unsupported sandbox.backend"},
		{"RelativeScratchRoot", func(c *Config) { c.Sandbox.ScratchRoot = "../temp_code" }, "sandbox.scratch_root must be an absolute path"},
		{"InvalidSandboxTimeout", func(c *Config) { c.Sandbox.TimeoutSec = 0 }, "sandbox.timeout_sec must be positive"},
		{"InvalidSandboxMemory", func(c *Config) { c.Sandbox.MemoryMB = 0 }, "sandbox.memory_mb must be positive"},
		{"InvalidMaxOutput", func(c *Config) { c.Sandbox.MaxOutputKB = -1 }, "sandbox.max_output_kb must be positive"},
		{"NoDockerHosts", func(c *Config) { c.Sandbox.DockerHosts = nil }, "sandbox.docker_hosts"},
		{"InvalidMaxConcurrent", func(c *Config) { c.RateLimit.MaxConcurrent = 0 }, "ratelimit.max_concurrent must be positive"},
		{"InvalidLoggingMode", func(c *Config) { c.Logging.Mode = "invalid_mode" }, "invalid logging.mode"},
		{"InvalidLogLevel", func(c *Config) { c.Logging.Level = "invalid_level" }, "invalid logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("PodmanNeedsNoDockerHosts", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Backend = "podman"
		cfg.Sandbox.DockerHosts = nil
		require.NoError(t, cfg.validate())
	})
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())

		cfg, err := New()
		require.NoError(t, err)

		assert.Equal(t, "docker", cfg.Sandbox.Backend)
		assert.Equal(t, "/tmp/coderun/workspaces", cfg.Sandbox.ScratchRoot)
		assert.Equal(t, 256, cfg.Sandbox.MemoryMB)
		assert.Equal(t, "0", cfg.Sandbox.CPUSet)
		assert.Equal(t, "coder", cfg.Sandbox.User)
		assert.True(t, cfg.Sandbox.StrictLanguages)
		assert.Equal(t, []string{"env", "unix:///var/run/docker.sock", "npipe:////./pipe/docker_engine"}, cfg.Sandbox.DockerHosts)
		assert.Equal(t, map[string]string{
			"python": "python-runner",
			"java":   "java-runner",
			"cpp":    "cpp-runner",
		}, cfg.LanguageImages())
		assert.Equal(t, "disabled", cfg.Server.MCPTransport)
		assert.Empty(t, cfg.NATS.URL)
	})

	t.Run("FromFile", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		doc := map[string]any{
			"sandbox": map[string]any{
				"backend":      "podman",
				"timeout_sec":  3,
				"scratch_root": filepath.Join(dir, "scratch"),
			},
			"languages": map[string]any{
				"java": map[string]any{"image": "registry.local/java-runner:21"},
			},
			"logging": map[string]any{"mode": "development", "level": "debug"},
		}
		data, err := yaml.Marshal(doc)
		require.NoError(t, err)
		path := filepath.Join(dir, "coderun.yaml")
		require.NoError(t, os.WriteFile(path, data, 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "podman", cfg.Sandbox.Backend)
		assert.Equal(t, 3, cfg.Sandbox.TimeoutSec)
		assert.Equal(t, "3s", cfg.GetTimeout().String())
		assert.Equal(t, "registry.local/java-runner:21", cfg.LanguageImages()["java"])
		assert.Equal(t, "python-runner", cfg.LanguageImages()["python"])
		assert.Equal(t, "development", cfg.Logging.Mode)
	})

	t.Run("EnvOverride", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("CODERUN_SANDBOX_TIMEOUT_SEC", "7")
		t.Setenv("CODERUN_NATS_URL", "nats://127.0.0.1:4222")

		cfg, err := New()
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Sandbox.TimeoutSec)
		assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	})

	t.Run("DotEnv", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CODERUN_SANDBOX_MEMORY_MB=128\n"), 0o600))
		t.Cleanup(func() { os.Unsetenv("CODERUN_SANDBOX_MEMORY_MB") })

		cfg, err := New()
		require.NoError(t, err)
		assert.Equal(t, 128, cfg.Sandbox.MemoryMB)
	})

	t.Run("InvalidFileValues", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		path := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("sandbox:\n  timeout_sec: -5\n"), 0o600))

		_, err := New()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.timeout_sec must be positive")
	})
}
