package sandbox

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/mock"
)

type commandResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// MockCommandRunner implements CommandRunner for testing. Results are keyed by
// the command's first two words, e.g. "podman run".
type MockCommandRunner struct {
	mu             sync.Mutex
	commandResults map[string]commandResult
	defaultResult  commandResult
	block          map[string]bool
	calls          [][]string
}

func (m *MockCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	m.mu.Lock()
	m.calls = append(m.calls, args)
	key := strings.Join(args[:min(2, len(args))], " ")
	result, exists := m.commandResults[key]
	blocking := m.block[key]
	m.mu.Unlock()

	if blocking {
		<-ctx.Done()
		return result.stdout, result.stderr, -1, nil
	}
	if exists {
		return result.stdout, result.stderr, result.exitCode, result.err
	}
	return m.defaultResult.stdout, m.defaultResult.stderr, m.defaultResult.exitCode, m.defaultResult.err
}

func (m *MockCommandRunner) callsFor(key string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched [][]string
	for _, call := range m.calls {
		if strings.Join(call[:min(2, len(call))], " ") == key {
			matched = append(matched, call)
		}
	}
	return matched
}

// MockFileSystem wraps RealFileSystem and fails the operations listed in its
// error maps, keyed by path.
type MockFileSystem struct {
	RealFileSystem
	mkdirAllErrors  map[string]error
	chmodErrors     map[string]error
	writeFileErrors map[string]error
	removeAllErrors map[string]error
	readDirResults  map[string][]os.DirEntry
	removed         []string
}

func (m *MockFileSystem) MkdirAll(path string, perm os.FileMode) error {
	if err, exists := m.mkdirAllErrors[path]; exists {
		return err
	}
	return m.RealFileSystem.MkdirAll(path, perm)
}

func (m *MockFileSystem) Chmod(path string, perm os.FileMode) error {
	if err, exists := m.chmodErrors[path]; exists {
		return err
	}
	return m.RealFileSystem.Chmod(path, perm)
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	if err, exists := m.writeFileErrors[filename]; exists {
		return err
	}
	return m.RealFileSystem.WriteFile(filename, data, perm)
}

func (m *MockFileSystem) ReadDir(path string) ([]os.DirEntry, error) {
	if entries, exists := m.readDirResults[path]; exists {
		return entries, nil
	}
	return m.RealFileSystem.ReadDir(path)
}

func (m *MockFileSystem) RemoveAll(path string) error {
	m.removed = append(m.removed, path)
	if err, exists := m.removeAllErrors[path]; exists {
		return err
	}
	return m.RealFileSystem.RemoveAll(path)
}

// MockRuntime implements ContainerRuntime for engine tests.
type MockRuntime struct {
	mock.Mock
}

func (m *MockRuntime) Run(ctx context.Context, spec LanguageSpec, ws *Workspace) (string, error) {
	args := m.Called(ctx, spec, ws)
	if fn, ok := args.Get(0).(func(context.Context, LanguageSpec, *Workspace) (string, error)); ok {
		return fn(ctx, spec, ws)
	}
	return args.String(0), args.Error(1)
}

// fakeContainerAPI is an in-memory ContainerAPI. A container "runs" until it
// is waited on; exitCode and the log frames are returned as configured.
type fakeContainerAPI struct {
	mu sync.Mutex

	createErr error
	startErr  error
	waitErr   error
	logsErr   error
	removeErr error
	hang      bool

	exitCode int64
	stdout   string
	stderr   string

	created    []string
	configs    []*container.Config
	hostCfgs   []*container.HostConfig
	killed     []string
	removed    []string
	listResult []ManagedContainer
	closed     bool
}

func (f *fakeContainerAPI) Ping(context.Context) error { return nil }

func (f *fakeContainerAPI) ContainerCreate(_ context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	id := "c0ffee" + name
	f.created = append(f.created, id)
	f.configs = append(f.configs, cfg)
	f.hostCfgs = append(f.hostCfgs, hostCfg)
	return id, nil
}

func (f *fakeContainerAPI) ContainerStart(context.Context, string) error {
	return f.startErr
}

func (f *fakeContainerAPI) ContainerWait(ctx context.Context, _ string) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	switch {
	case f.hang:
		go func() {
			<-ctx.Done()
			errCh <- ctx.Err()
		}()
	case f.waitErr != nil:
		errCh <- f.waitErr
	default:
		statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	}
	return statusCh, errCh
}

func (f *fakeContainerAPI) ContainerLogs(context.Context, string) (io.ReadCloser, error) {
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	var buf bytes.Buffer
	if f.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeContainerAPI) ContainerKill(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, id)
	return nil
}

func (f *fakeContainerAPI) ContainerRemove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return f.removeErr
}

func (f *fakeContainerAPI) ListManaged(context.Context) ([]ManagedContainer, error) {
	return f.listResult, nil
}

func (f *fakeContainerAPI) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func dialFake(api ContainerAPI) Dialer {
	return func(context.Context, string) (ContainerAPI, error) {
		return api, nil
	}
}

func testLimits() Limits {
	return Limits{
		Timeout:        2 * time.Second,
		MemoryBytes:    256 * BytesPerMB,
		CPUSet:         "0",
		PidsLimit:      64,
		MaxOutputBytes: 64 * BytesPerKB,
		User:           "coder",
		Workdir:        "/app",
	}
}

func testWorkspace(spec LanguageSpec) *Workspace {
	return &Workspace{
		ID:   "0b7c2a52-5c1e-4f59-9a53-2f1d1a6c9e11",
		Dir:  "/tmp/coderun/workspaces/0b7c2a52-5c1e-4f59-9a53-2f1d1a6c9e11",
		Mode: spec.MountMode,
	}
}

func pythonSpec() LanguageSpec {
	spec, _ := NewRegistry(nil, true).Lookup(LanguagePython)
	return spec
}

func javaSpec() LanguageSpec {
	spec, _ := NewRegistry(nil, true).Lookup(LanguageJava)
	return spec
}
