package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ContainerRuntime launches one run-to-completion container for a prepared
// workspace and returns its combined output. Failures are reported as
// *ContainerExitError, *ImageMissingError, *TimeoutError or
// *InfrastructureError.
type ContainerRuntime interface {
	Run(ctx context.Context, spec LanguageSpec, ws *Workspace) (string, error)
}

// Limits are the resource and privilege limits applied to every container.
type Limits struct {
	Timeout        time.Duration
	MemoryBytes    int64
	CPUSet         string
	PidsLimit      int64
	MaxOutputBytes int
	User           string
	Workdir        string
}

// ContainerSweeper removes exited containers left behind by earlier processes.
type ContainerSweeper interface {
	SweepContainers(ctx context.Context, olderThan time.Duration) (int, error)
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments. A non-zero exit is
// reported through exitCode, not err.
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, errors.New("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // arguments are built by the runtime, not the user

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if runErr := cmd.Run(); runErr != nil {
		var exitError *exec.ExitError
		if !errors.As(runErr, &exitError) {
			return stdoutBuf.String(), stderrBuf.String(), 0, fmt.Errorf("run %s: %w", args[0], runErr)
		}
		exitCode = exitError.ExitCode()
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	Mkdir(path string, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Chmod(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	ReadDir(path string) ([]os.DirEntry, error)
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) Mkdir(path string, perm os.FileMode) error {
	return os.Mkdir(path, perm)
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) Chmod(path string, perm os.FileMode) error {
	return os.Chmod(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// File permission constants
const (
	RootPermission     = 0o755
	ReadOnlyDirPerm    = 0o755
	ReadWriteDirPerm   = 0o777
	FilePermission     = 0o644
	BytesPerKB         = 1024
	BytesPerMB         = 1024 * 1024
	InputFileName      = "input.txt"
	ManagedLabel       = "coderun.managed"
	WorkspaceLabel     = "coderun.workspace"
	LanguageLabel      = "coderun.language"
	containerNameStart = "coderun-"
)
