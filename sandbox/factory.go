package sandbox

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
)

// LimitsFromConfig converts the sandbox configuration into container limits.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		Timeout:        cfg.GetTimeout(),
		MemoryBytes:    int64(cfg.Sandbox.MemoryMB) * BytesPerMB,
		CPUSet:         cfg.Sandbox.CPUSet,
		PidsLimit:      cfg.Sandbox.PidsLimit,
		MaxOutputBytes: cfg.Sandbox.MaxOutputKB * BytesPerKB,
		User:           cfg.Sandbox.User,
		Workdir:        cfg.Sandbox.Workdir,
	}
}

// NewRuntime creates the container runtime selected by sandbox.backend.
func NewRuntime(logger *zap.Logger, cfg *config.Config) (ContainerRuntime, error) {
	limits := LimitsFromConfig(cfg)

	switch cfg.Sandbox.Backend {
	case "docker":
		return NewDockerRuntime(logger, limits, WithHosts(cfg.Sandbox.DockerHosts)), nil
	case "podman":
		return NewPodmanRuntime(logger, limits), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}

// NewRegistryFromConfig builds the language registry from the languages and
// sandbox.strict_languages settings.
func NewRegistryFromConfig(cfg *config.Config) *Registry {
	return NewRegistry(cfg.LanguageImages(), cfg.Sandbox.StrictLanguages)
}

// NewProvisionerFromConfig roots a Provisioner at sandbox.scratch_root.
func NewProvisionerFromConfig(logger *zap.Logger, cfg *config.Config) *Provisioner {
	return NewProvisioner(logger, cfg.Sandbox.ScratchRoot)
}

// NewJanitorFromConfig creates the Janitor, sweeping containers when the
// runtime supports it. The grace period covers the longest possible run.
func NewJanitorFromConfig(logger *zap.Logger, cfg *config.Config, runtime ContainerRuntime) *Janitor {
	sweeper, _ := runtime.(ContainerSweeper)
	interval := time.Duration(cfg.Sandbox.JanitorInterval) * time.Second

	grace := DefaultGracePeriod
	if minGrace := 2*cfg.GetTimeout() + cleanupTimeout; minGrace > grace {
		grace = minGrace
	}
	return NewJanitor(logger, cfg.Sandbox.ScratchRoot, sweeper, interval, WithGracePeriod(grace))
}
