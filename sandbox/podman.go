package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// podmanErrorExit is the exit status podman itself uses for its own failures,
// as opposed to the status of the containerised process.
const podmanErrorExit = 125

var imageMissingMarkers = []string{
	"image not known",
	"manifest unknown",
	"no such image",
	"unable to find image",
}

// PodmanRuntime implements ContainerRuntime by driving the podman CLI
type PodmanRuntime struct {
	logger    *zap.Logger
	limits    Limits
	binary    string
	cmdRunner CommandRunner
}

// PodmanRuntimeOption defines a functional option for PodmanRuntime
type PodmanRuntimeOption func(*PodmanRuntime)

// WithPodmanCommandRunner sets the CommandRunner for PodmanRuntime
func WithPodmanCommandRunner(cmdRunner CommandRunner) PodmanRuntimeOption {
	return func(p *PodmanRuntime) {
		p.cmdRunner = cmdRunner
	}
}

// WithPodmanBinary sets the CLI binary, e.g. "docker" for a podman-compatible CLI.
func WithPodmanBinary(binary string) PodmanRuntimeOption {
	return func(p *PodmanRuntime) {
		p.binary = binary
	}
}

// NewPodmanRuntime creates a new PodmanRuntime with default implementations and optional interfaces
func NewPodmanRuntime(logger *zap.Logger, limits Limits, opts ...PodmanRuntimeOption) *PodmanRuntime {
	p := &PodmanRuntime{
		logger:    logger,
		limits:    limits,
		binary:    "podman",
		cmdRunner: &RealCommandRunner{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the workspace's program with `podman run` and blocks until it
// exits or the timeout kills it. The CLI's streams are captured separately,
// so the returned output is all of stdout followed by all of stderr rather
// than interleaved in arrival order as the Docker backend returns it.
func (p *PodmanRuntime) Run(ctx context.Context, spec LanguageSpec, ws *Workspace) (string, error) {
	name := containerNameStart + ws.ID
	defer p.remove(name)

	runCtx, cancel := context.WithTimeout(ctx, p.limits.Timeout)
	defer cancel()

	stdout, stderr, exitCode, err := p.cmdRunner.RunCommand(runCtx, p.runArgs(spec, ws, name))
	combined := truncate(stdout+stderr, p.limits.MaxOutputBytes)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		p.kill(name)
		return "", &TimeoutError{After: p.limits.Timeout, Output: combined}
	}
	if err != nil {
		return "", &InfrastructureError{Op: "run " + p.binary, Err: err}
	}

	if exitCode == podmanErrorExit {
		lower := strings.ToLower(stderr)
		for _, marker := range imageMissingMarkers {
			if strings.Contains(lower, marker) {
				return "", &ImageMissingError{Image: spec.Image}
			}
		}
		return "", &InfrastructureError{Op: "run " + p.binary, Err: errors.New(strings.TrimSpace(stderr))}
	}

	if exitCode != 0 {
		return "", &ContainerExitError{
			ExitCode: exitCode,
			Stderr:   truncate(stderr, p.limits.MaxOutputBytes),
			Output:   combined,
		}
	}
	return combined, nil
}

// SweepContainers removes exited managed containers. Containers started with
// --rm rarely survive, so this only catches runs whose CLI process died.
func (p *PodmanRuntime) SweepContainers(ctx context.Context, olderThan time.Duration) (int, error) {
	stdout, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, []string{
		p.binary, "ps", "-a", "-q",
		"--filter", "label=" + ManagedLabel + "=true",
		"--filter", "status=exited",
		"--filter", "status=created",
		"--filter", fmt.Sprintf("until=%d", time.Now().Add(-olderThan).Unix()),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list managed containers: %w", err)
	}
	if exitCode != 0 {
		return 0, fmt.Errorf("failed to list managed containers: %s", strings.TrimSpace(stderr))
	}

	removed := 0
	for _, id := range strings.Fields(stdout) {
		_, rmErr, code, err := p.cmdRunner.RunCommand(ctx, []string{p.binary, "rm", "-f", id})
		if err != nil || code != 0 {
			p.logger.Warn("failed to remove stale container", zap.String("container", id), zap.String("stderr", rmErr), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func (p *PodmanRuntime) runArgs(spec LanguageSpec, ws *Workspace, name string) []string {
	args := []string{
		p.binary, "run",
		"--name", name,
		"--rm",
		"--pull", "never",
		"--label", ManagedLabel + "=true",
		"--label", WorkspaceLabel + "=" + ws.ID,
		"--label", LanguageLabel + "=" + spec.ID,
		"-v", fmt.Sprintf("%s:%s:%s", ws.Dir, p.limits.Workdir, spec.MountMode),
		"--workdir", p.limits.Workdir,
		"--user", p.limits.User,
		"--network", "none",
		"--memory", fmt.Sprintf("%d", p.limits.MemoryBytes),
		"--memory-swap", fmt.Sprintf("%d", p.limits.MemoryBytes),
		"--cpuset-cpus", p.limits.CPUSet,
		"--security-opt", "no-new-privileges",
		"--cap-drop", "ALL",
		"--stop-signal", "SIGKILL",
		"--ulimit", "nofile=256:256",
		"--ulimit", fmt.Sprintf("fsize=%d:%d", 20*BytesPerMB, 20*BytesPerMB),
		"--ulimit", "core=0:0",
	}
	if p.limits.PidsLimit > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", p.limits.PidsLimit))
	}
	return append(args, spec.Image, "sh", "-c", RunCommand(spec))
}

func (p *PodmanRuntime) kill(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if _, stderr, code, err := p.cmdRunner.RunCommand(ctx, []string{p.binary, "kill", "--signal", "SIGKILL", name}); err != nil || code != 0 {
		p.logger.Debug("kill after timeout failed", zap.String("container", name), zap.String("stderr", stderr), zap.Error(err))
	}
}

// remove is a safety net for runs whose --rm did not fire, such as a CLI
// process killed at the deadline. A missing container is expected.
func (p *PodmanRuntime) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	_, stderr, code, err := p.cmdRunner.RunCommand(ctx, []string{p.binary, "rm", "-f", "--ignore", name})
	if err != nil || code != 0 {
		p.logger.Warn("failed to remove container", zap.String("container", name), zap.String("stderr", stderr), zap.Error(err))
	}
}
