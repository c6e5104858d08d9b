// Package config provides application configuration management.
//
// The config package loads the service configuration from an optional .env
// file, a YAML file and CODERUN_* environment variables, in that order of
// increasing precedence over built-in defaults. It covers the HTTP, MCP and
// NATS front ends, sandbox resource limits, per-language image overrides,
// rate limiting and logging.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox backend: %s\n", cfg.Sandbox.Backend)
package config
