package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	"go.uber.org/zap"
)

// cleanupTimeout bounds the calls made after the execution deadline: kill,
// log collection and removal.
const cleanupTimeout = 10 * time.Second

// DockerRuntime implements ContainerRuntime against the Docker Engine API
type DockerRuntime struct {
	logger *zap.Logger
	limits Limits
	hosts  []string
	dial   Dialer
}

// DockerRuntimeOption defines a functional option for DockerRuntime
type DockerRuntimeOption func(*DockerRuntime)

// WithDialer replaces the Docker SDK dialer, mainly for tests.
func WithDialer(dial Dialer) DockerRuntimeOption {
	return func(d *DockerRuntime) {
		d.dial = dial
	}
}

// WithHosts sets the ordered transport candidates.
func WithHosts(hosts []string) DockerRuntimeOption {
	return func(d *DockerRuntime) {
		if len(hosts) > 0 {
			d.hosts = hosts
		}
	}
}

// NewDockerRuntime creates a DockerRuntime with the SDK dialer and the default
// transport candidates.
func NewDockerRuntime(logger *zap.Logger, limits Limits, opts ...DockerRuntimeOption) *DockerRuntime {
	d := &DockerRuntime{
		logger: logger,
		limits: limits,
		hosts:  DefaultHosts,
		dial:   DialDocker,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes the workspace's program in a fresh container and blocks until
// it exits or the timeout kills it. The container is removed before Run
// returns on every path after it was created.
func (d *DockerRuntime) Run(ctx context.Context, spec LanguageSpec, ws *Workspace) (string, error) {
	api, host, err := Connect(ctx, d.hosts, d.dial)
	if err != nil {
		return "", err
	}
	defer api.Close()

	runCtx, cancel := context.WithTimeout(ctx, d.limits.Timeout)
	defer cancel()

	id, err := api.ContainerCreate(runCtx, d.containerConfig(spec, ws), d.hostConfig(spec, ws), containerNameStart+ws.ID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", &ImageMissingError{Image: spec.Image}
		}
		return "", &InfrastructureError{Op: "create container", Err: err}
	}
	defer d.remove(api, id)

	log := d.logger.With(
		zap.String("container", shortID(id)),
		zap.String("workspace", ws.ID),
		zap.String("host", host),
	)
	log.Debug("container created", zap.String("image", spec.Image))

	if err := api.ContainerStart(runCtx, id); err != nil {
		return "", &InfrastructureError{Op: "start container", Err: err}
	}

	statusCh, errCh := api.ContainerWait(runCtx, id)
	var status container.WaitResponse
	select {
	case status = <-statusCh:
	case err := <-errCh:
		if runCtx.Err() != nil {
			return d.timedOut(api, id, log)
		}
		return "", &InfrastructureError{Op: "wait for container", Err: err}
	case <-runCtx.Done():
		return d.timedOut(api, id, log)
	}

	if status.Error != nil && status.Error.Message != "" {
		return "", &InfrastructureError{Op: "wait for container", Err: errors.New(status.Error.Message)}
	}

	combined, stderr, err := d.collectLogs(api, id)
	if err != nil {
		return "", &InfrastructureError{Op: "read container logs", Err: err}
	}

	log.Debug("container exited", zap.Int64("exit_code", status.StatusCode))

	if status.StatusCode != 0 {
		return "", &ContainerExitError{
			ExitCode: int(status.StatusCode),
			Stderr:   stderr,
			Output:   combined,
		}
	}
	return combined, nil
}

// SweepContainers removes managed containers that are no longer running and
// were created more than olderThan ago.
func (d *DockerRuntime) SweepContainers(ctx context.Context, olderThan time.Duration) (int, error) {
	api, _, err := Connect(ctx, d.hosts, d.dial)
	if err != nil {
		return 0, err
	}
	defer api.Close()

	containers, err := api.ListManaged(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list managed containers: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, c := range containers {
		if c.State == "running" || c.Created.After(cutoff) {
			continue
		}
		if err := api.ContainerRemove(ctx, c.ID); err != nil && !errdefs.IsNotFound(err) {
			d.logger.Warn("failed to remove stale container", zap.String("container", shortID(c.ID)), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func (d *DockerRuntime) containerConfig(spec LanguageSpec, ws *Workspace) *container.Config {
	return &container.Config{
		Image:           spec.Image,
		Cmd:             []string{"sh", "-c", RunCommand(spec)},
		WorkingDir:      d.limits.Workdir,
		User:            d.limits.User,
		NetworkDisabled: true,
		StopSignal:      "SIGKILL",
		Tty:             false,
		Labels: map[string]string{
			ManagedLabel:   "true",
			WorkspaceLabel: ws.ID,
			LanguageLabel:  spec.ID,
		},
	}
}

func (d *DockerRuntime) hostConfig(spec LanguageSpec, ws *Workspace) *container.HostConfig {
	pidsLimit := d.limits.PidsLimit
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   ws.Dir,
				Target:   d.limits.Workdir,
				ReadOnly: spec.MountMode == ReadOnly,
			},
		},
		NetworkMode: "none",
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		Resources: container.Resources{
			Memory:     d.limits.MemoryBytes,
			MemorySwap: d.limits.MemoryBytes,
			CpusetCpus: d.limits.CPUSet,
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: 256, Hard: 256},
				{Name: "fsize", Soft: 20 * BytesPerMB, Hard: 20 * BytesPerMB},
				{Name: "core", Soft: 0, Hard: 0},
			},
		},
	}
	if pidsLimit > 0 {
		hostCfg.Resources.PidsLimit = &pidsLimit
	}
	return hostCfg
}

// collectLogs demultiplexes the container log stream. stdout and stderr are
// interleaved into combined in arrival order; stderr is also kept on its own.
func (d *DockerRuntime) collectLogs(api ContainerAPI, id string) (combined, stderr string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	rc, err := api.ContainerLogs(ctx, id)
	if err != nil {
		return "", "", err
	}
	defer rc.Close()

	all := newLimitedBuffer(d.limits.MaxOutputBytes)
	errBuf := newLimitedBuffer(d.limits.MaxOutputBytes)
	if _, err := stdcopy.StdCopy(all, io.MultiWriter(all, errBuf), rc); err != nil {
		return "", "", err
	}
	return all.String(), errBuf.String(), nil
}

func (d *DockerRuntime) timedOut(api ContainerAPI, id string, log *zap.Logger) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := api.ContainerKill(ctx, id, "SIGKILL"); err != nil && !errdefs.IsNotFound(err) && !errdefs.IsConflict(err) {
		log.Warn("failed to kill container after timeout", zap.Error(err))
	}

	partial, _, err := d.collectLogs(api, id)
	if err != nil {
		log.Debug("no logs after timeout", zap.Error(err))
		partial = ""
	}
	log.Info("container killed at deadline", zap.Duration("timeout", d.limits.Timeout))
	return "", &TimeoutError{After: d.limits.Timeout, Output: partial}
}

// remove runs detached from the execution context so an expired deadline
// does not leak the container.
func (d *DockerRuntime) remove(api ContainerAPI, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := api.ContainerRemove(ctx, id); err != nil && !errdefs.IsNotFound(err) {
		d.logger.Error("failed to remove container", zap.String("container", shortID(id)), zap.Error(err))
	}
}

// RunCommand is the shell command executed in the container: the language's
// build/run command with stdin redirected from the input file.
func RunCommand(spec LanguageSpec) string {
	return fmt.Sprintf("%s < %s", spec.Command, InputFileName)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
