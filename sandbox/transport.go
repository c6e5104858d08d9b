package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// HostFromEnv is the transport candidate meaning "whatever DOCKER_HOST and the
// platform default say".
const HostFromEnv = "env"

// Alternate transports tried after the environment default. Docker Desktop on
// Windows only listens on the named pipe.
const (
	HostUnixSocket = "unix:///var/run/docker.sock"
	HostNamedPipe  = "npipe:////./pipe/docker_engine"
)

// DefaultHosts is the candidate order used when none is configured.
var DefaultHosts = []string{HostFromEnv, HostUnixSocket, HostNamedPipe}

const pingTimeout = 5 * time.Second

// ManagedContainer is an engine-side container carrying the managed label.
type ManagedContainer struct {
	ID      string
	State   string
	Created time.Time
}

// ContainerAPI is the subset of the Docker Engine API the runtime uses.
type ContainerAPI interface {
	Ping(ctx context.Context) error
	ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error)
	ContainerStart(ctx context.Context, id string) error
	ContainerWait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, id, signal string) error
	ContainerRemove(ctx context.Context, id string) error
	ListManaged(ctx context.Context) ([]ManagedContainer, error)
	Close() error
}

// Dialer opens a ContainerAPI for one transport candidate and verifies the
// engine answers on it.
type Dialer func(ctx context.Context, host string) (ContainerAPI, error)

// DialDocker is the Dialer backed by the Docker SDK client.
func DialDocker(ctx context.Context, host string) (ContainerAPI, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != HostFromEnv {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	api := &sdkClient{cli: cli}
	if err := api.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to ping docker engine: %w", err)
	}
	return api, nil
}

// Connect tries each host in order and returns the first engine that answers.
// When none does the error is an *InfrastructureError listing every attempt.
func Connect(ctx context.Context, hosts []string, dial Dialer) (ContainerAPI, string, error) {
	if len(hosts) == 0 {
		return nil, "", &InfrastructureError{Op: "connect to container engine", Err: errors.New("no transports configured")}
	}

	errs := make([]error, 0, len(hosts))
	for _, host := range hosts {
		attemptCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		api, err := dial(attemptCtx, host)
		cancel()
		if err == nil {
			return api, host, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", host, err))
	}

	return nil, "", &InfrastructureError{Op: "connect to container engine", Err: errors.Join(errs...)}
}

// sdkClient adapts *client.Client to ContainerAPI.
type sdkClient struct {
	cli *client.Client
}

func (c *sdkClient) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

func (c *sdkClient) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error) {
	resp, err := c.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *sdkClient) ContainerStart(ctx context.Context, id string) error {
	return c.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (c *sdkClient) ContainerWait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error) {
	return c.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
}

func (c *sdkClient) ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	return c.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
}

func (c *sdkClient) ContainerKill(ctx context.Context, id, signal string) error {
	return c.cli.ContainerKill(ctx, id, signal)
}

func (c *sdkClient) ContainerRemove(ctx context.Context, id string) error {
	return c.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
}

func (c *sdkClient) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	summaries, err := c.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedLabel+"=true")),
	})
	if err != nil {
		return nil, err
	}

	managed := make([]ManagedContainer, 0, len(summaries))
	for _, s := range summaries {
		managed = append(managed, ManagedContainer{
			ID:      s.ID,
			State:   string(s.State),
			Created: time.Unix(s.Created, 0),
		})
	}
	return managed, nil
}

func (c *sdkClient) Close() error {
	return c.cli.Close()
}
