package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome classifies how an execution ended.
type Outcome string

const (
	Success               Outcome = "success"
	UserCodeFailure       Outcome = "user_code_failure"
	ConfigurationFailure  Outcome = "configuration_failure"
	InfrastructureFailure Outcome = "infrastructure_failure"
)

// Result is what the engine hands back for every execution.
type Result struct {
	Output  string  `json:"output"`
	Outcome Outcome `json:"-"`
}

// ContainerExitError reports a process that ran and exited non-zero.
type ContainerExitError struct {
	ExitCode int
	Stderr   string
	Output   string
}

func (e *ContainerExitError) Error() string {
	return fmt.Sprintf("container exited with code %d", e.ExitCode)
}

// Message is the text shown to the user: the diagnostics on stderr, or
// otherwise the exit code notice, preceded by whatever the program printed.
func (e *ContainerExitError) Message() string {
	if strings.TrimSpace(e.Stderr) != "" {
		return e.Stderr
	}
	notice := fmt.Sprintf("Process exited with code %d", e.ExitCode)
	output := strings.TrimRight(e.Output, "\n")
	if strings.TrimSpace(output) == "" {
		return notice
	}
	return output + "\n" + notice
}

// ImageMissingError reports a runner image that is not present on the host.
// Images are built by operators, never pulled or built by the engine.
type ImageMissingError struct {
	Image string
}

func (e *ImageMissingError) Error() string {
	return fmt.Sprintf("image %s not found", e.Image)
}

// Message names the missing image and how to fix it.
func (e *ImageMissingError) Message() string {
	return fmt.Sprintf("Execution environment not found. Please build the '%s' Docker image.", e.Image)
}

// TimeoutError reports a container killed at the wall-clock deadline.
type TimeoutError struct {
	After  time.Duration
	Output string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %s", e.After)
}

// Message is the partial output followed by the timeout notice.
func (e *TimeoutError) Message() string {
	notice := fmt.Sprintf("Execution timed out after %s", e.After)
	if e.Output == "" {
		return notice
	}
	if !strings.HasSuffix(e.Output, "\n") {
		return e.Output + "\n" + notice
	}
	return e.Output + notice
}

// InfrastructureError reports an unreachable engine or any unexpected failure
// of the runtime itself.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// Classify folds a runtime outcome into a Result. It never fails: errors it
// does not recognise are infrastructure failures.
func Classify(output string, err error) Result {
	if err == nil {
		return Result{Output: output, Outcome: Success}
	}

	var (
		exitErr    *ContainerExitError
		timeoutErr *TimeoutError
		imageErr   *ImageMissingError
	)
	switch {
	case errors.As(err, &exitErr):
		return Result{Output: exitErr.Message(), Outcome: UserCodeFailure}
	case errors.As(err, &timeoutErr):
		return Result{Output: timeoutErr.Message(), Outcome: UserCodeFailure}
	case errors.As(err, &imageErr):
		return Result{Output: imageErr.Message(), Outcome: ConfigurationFailure}
	default:
		return Result{
			Output:  fmt.Sprintf("An unexpected execution error occurred: %v", err),
			Outcome: InfrastructureFailure,
		}
	}
}

// TruncationMarker is appended to output cut at the size limit.
const TruncationMarker = "\n[output truncated]"

// limitedBuffer keeps the first limit bytes written to it and drops the rest.
// Writes never fail.
type limitedBuffer struct {
	buf       []byte
	limit     int
	truncated bool
}

func newLimitedBuffer(limit int) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - len(b.buf)
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return string(b.buf) + TruncationMarker
	}
	return string(b.buf)
}

// truncate applies the same limit to an already captured string.
func truncate(s string, limit int) string {
	b := newLimitedBuffer(limit)
	_, _ = b.Write([]byte(s))
	return b.String()
}
