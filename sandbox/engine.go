package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExecutionRequest is one submission: a language id, the source and the text
// fed to the program on stdin.
type ExecutionRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin"`
}

// State is a step of the per-execution lifecycle.
type State int

const (
	StateCreated State = iota
	StateProvisioned
	StateNormalized
	StateRunning
	StateCompleted
	StateFailed
	StateCleaned
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateProvisioned:
		return "provisioned"
	case StateNormalized:
		return "normalized"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCleaned:
		return "cleaned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TransitionHook observes lifecycle transitions. It is called synchronously
// from the executing goroutine.
type TransitionHook func(executionID string, state State)

// Recorder receives execution measurements.
type Recorder interface {
	WorkspaceOpened()
	WorkspaceClosed()
	Observe(language string, outcome Outcome, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) WorkspaceOpened()                       {}
func (nopRecorder) WorkspaceClosed()                       {}
func (nopRecorder) Observe(string, Outcome, time.Duration) {}

// Engine runs submissions end to end: language lookup, workspace, source
// normalization, container run and classification.
type Engine struct {
	logger      *zap.Logger
	registry    *Registry
	provisioner *Provisioner
	runtime     ContainerRuntime
	recorder    Recorder
	hook        TransitionHook
	newID       func() string
}

// EngineOption defines a functional option for Engine
type EngineOption func(*Engine)

// WithRecorder sets the metrics Recorder for Engine
func WithRecorder(recorder Recorder) EngineOption {
	return func(e *Engine) {
		if recorder != nil {
			e.recorder = recorder
		}
	}
}

// WithTransitionHook sets a lifecycle observer for Engine
func WithTransitionHook(hook TransitionHook) EngineOption {
	return func(e *Engine) {
		e.hook = hook
	}
}

// WithIDGenerator replaces the random workspace id source.
func WithIDGenerator(newID func() string) EngineOption {
	return func(e *Engine) {
		e.newID = newID
	}
}

// NewEngine creates an Engine with random UUID workspace ids and no metrics.
func NewEngine(logger *zap.Logger, registry *Registry, provisioner *Provisioner, runtime ContainerRuntime, opts ...EngineOption) *Engine {
	e := &Engine{
		logger:      logger,
		registry:    registry,
		provisioner: provisioner,
		runtime:     runtime,
		recorder:    nopRecorder{},
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the language table the engine resolves against.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Run executes req and returns its classified result. Failures of the user's
// program and of the container engine are part of the Result; the returned
// error is reserved for an unsupported language and for workspace I/O
// failures on the host.
//
// The container run is detached from ctx cancellation: an abandoned request
// still runs to completion or timeout, and its workspace and container are
// always removed before Run returns.
func (e *Engine) Run(ctx context.Context, req ExecutionRequest) (Result, error) {
	spec, err := e.registry.Resolve(req.Language)
	if err != nil {
		return Result{}, err
	}

	id := e.newID()
	log := e.logger.With(zap.String("workspace", id), zap.String("language", spec.ID))
	if spec.ID != req.Language {
		log.Warn("unknown language, using fallback", zap.String("requested", req.Language))
	}

	start := time.Now()
	e.transition(id, StateCreated)
	defer e.transition(id, StateCleaned)

	var result Result
	err = e.provisioner.With(id, spec, req.Code, req.Stdin, func(ws *Workspace) error {
		e.recorder.WorkspaceOpened()
		defer e.recorder.WorkspaceClosed()
		e.transition(id, StateProvisioned)

		if spec.ID == LanguageJava {
			if normalized := Normalize(spec, req.Code); normalized != req.Code {
				if err := e.provisioner.WriteSource(ws, normalized); err != nil {
					return err
				}
				log.Debug("java source rewritten to " + JavaClassName)
			}
			e.transition(id, StateNormalized)
		}

		e.transition(id, StateRunning)
		result = e.execute(ctx, spec, ws, log)
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		e.transition(id, StateFailed)
		e.recorder.Observe(spec.ID, InfrastructureFailure, elapsed)
		log.Error("workspace preparation failed", zap.Error(err))
		return Result{}, fmt.Errorf("failed to prepare workspace: %w", err)
	}

	if result.Outcome == Success {
		e.transition(id, StateCompleted)
	} else {
		e.transition(id, StateFailed)
	}
	e.recorder.Observe(spec.ID, result.Outcome, elapsed)

	log.Info("execution finished",
		zap.String("outcome", string(result.Outcome)),
		zap.Duration("duration", elapsed),
		zap.Int("output_len", len(result.Output)))
	return result, nil
}

// execute runs the container and classifies the outcome. A panic anywhere in
// the runtime is reported as an infrastructure failure.
func (e *Engine) execute(ctx context.Context, spec LanguageSpec, ws *Workspace, log *zap.Logger) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during execution", zap.Any("panic", r), zap.Stack("stack"))
			result = Classify("", &InfrastructureError{Op: "execute", Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	output, err := e.runtime.Run(context.WithoutCancel(ctx), spec, ws)
	if err != nil {
		log.Debug("runtime reported failure", zap.Error(err))
	}
	return Classify(output, err)
}

func (e *Engine) transition(id string, state State) {
	if e.hook != nil {
		e.hook(id, state)
	}
}
