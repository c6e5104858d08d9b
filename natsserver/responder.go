package natsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/sandbox"
)

// Runner is the part of the engine the responder needs.
type Runner interface {
	Run(ctx context.Context, req sandbox.ExecutionRequest) (sandbox.Result, error)
}

// Request is the JSON payload of a run request. Input is accepted as an alias
// of Stdin.
type Request struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin"`
	Input    string `json:"input"`
}

// Reply carries the program output, which is always present even when empty,
// or a request error.
type Reply struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Responder answers run requests published on a NATS subject. Replicas share
// the load through a queue group; each replica runs at most Workers
// executions at a time.
type Responder struct {
	cfg    config.NATSConfig
	logger *zap.Logger
	runner Runner

	conn *nats.Conn
	sub  *nats.Subscription
	sem  chan struct{}
	wg   sync.WaitGroup
}

// New creates a Responder. It does not connect until Start.
func New(cfg *config.Config, logger *zap.Logger, runner Runner) *Responder {
	workers := cfg.NATS.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Responder{
		cfg:    cfg.NATS,
		logger: logger.With(zap.String("component", "nats")),
		runner: runner,
		sem:    make(chan struct{}, workers),
	}
}

// Enabled reports whether a NATS URL is configured.
func (r *Responder) Enabled() bool {
	return r.cfg.URL != ""
}

// Start connects and subscribes to the request subject.
func (r *Responder) Start() error {
	nc, err := nats.Connect(r.cfg.URL,
		nats.Name("coderun"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				r.logger.Warn("disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			r.logger.Info("reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", r.cfg.URL, err)
	}

	sub, err := nc.QueueSubscribe(r.cfg.Subject, r.cfg.Queue, r.onMessage)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.cfg.Subject, err)
	}

	r.conn = nc
	r.sub = sub
	r.logger.Info("listening for run requests",
		zap.String("subject", r.cfg.Subject),
		zap.String("queue", r.cfg.Queue),
		zap.Int("workers", cap(r.sem)))
	return nil
}

// Stop unsubscribes, waits for in-flight executions until ctx is done and
// closes the connection.
func (r *Responder) Stop(ctx context.Context) error {
	if r.conn == nil {
		return nil
	}
	defer r.conn.Close()

	var unsubErr error
	if r.sub != nil {
		unsubErr = r.sub.Unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return unsubErr
	case <-ctx.Done():
		return errors.Join(unsubErr, ctx.Err())
	}
}

// onMessage blocks the subscription's delivery goroutine while all workers
// are busy, which holds further requests in the client's pending queue.
func (r *Responder) onMessage(msg *nats.Msg) {
	r.sem <- struct{}{}
	r.wg.Add(1)
	go func() {
		defer func() {
			<-r.sem
			r.wg.Done()
		}()

		reply := r.handle(context.Background(), msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			r.logger.Warn("failed to send reply", zap.Error(err))
		}
	}()
}

// handle decodes one request, runs it and encodes the reply.
func (r *Responder) handle(ctx context.Context, data []byte) []byte {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return encodeReply(Reply{Error: "invalid request: " + err.Error()})
	}
	if req.Language == "" {
		return encodeReply(Reply{Error: "language is required"})
	}

	stdin := req.Stdin
	if stdin == "" {
		stdin = req.Input
	}

	result, err := r.runner.Run(ctx, sandbox.ExecutionRequest{
		Language: req.Language,
		Code:     req.Code,
		Stdin:    stdin,
	})
	if err != nil {
		if !errors.Is(err, sandbox.ErrUnsupportedLanguage) {
			r.logger.Error("execution failed", zap.String("language", req.Language), zap.Error(err))
		}
		return encodeReply(Reply{Error: err.Error()})
	}
	return encodeReply(Reply{Output: result.Output})
}

func encodeReply(reply Reply) []byte {
	data, err := json.Marshal(reply)
	if err != nil {
		// Reply holds only strings.
		panic(err)
	}
	return data
}
