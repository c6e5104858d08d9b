package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/httpapi"
	"github.com/isdmx/coderun/logger"
	"github.com/isdmx/coderun/mcpserver"
	"github.com/isdmx/coderun/metrics"
	"github.com/isdmx/coderun/natsserver"
	"github.com/isdmx/coderun/sandbox"
)

func main() {
	fx.New(
		appOptions(),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	).Run()
}

func appOptions() fx.Option {
	return fx.Options(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Sandbox engine and its collaborators
			sandbox.NewRegistryFromConfig,
			sandbox.NewProvisionerFromConfig,
			sandbox.NewRuntime,
			sandbox.NewJanitorFromConfig,
			metrics.NewRecorder,
			newEngine,

			// Front ends
			httpapi.New,
			mcpserver.New,
			natsserver.New,
			mcpRunner,
			natsRunner,
		),

		fx.Invoke(
			registerJanitor,
			registerHTTP,
			registerMCP,
			registerNATS,
		),
	)
}

func newEngine(
	log *zap.Logger,
	cfg *config.Config,
	registry *sandbox.Registry,
	provisioner *sandbox.Provisioner,
	runtime sandbox.ContainerRuntime,
	recorder sandbox.Recorder,
) *sandbox.Engine {
	log.Info("configuration loaded",
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.String("sandbox.scratch_root", cfg.Sandbox.ScratchRoot),
		zap.Int("sandbox.timeout_sec", cfg.Sandbox.TimeoutSec),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Bool("sandbox.strict_languages", cfg.Sandbox.StrictLanguages),
		zap.Strings("languages", registry.IDs()),
		zap.String("server.http_addr", cfg.Server.HTTPAddr),
		zap.String("server.mcp_transport", cfg.Server.MCPTransport),
		zap.Bool("nats.enabled", cfg.NATS.URL != ""),
	)
	return sandbox.NewEngine(log, registry, provisioner, runtime, sandbox.WithRecorder(recorder))
}

func mcpRunner(e *sandbox.Engine) mcpserver.Runner { return e }

func natsRunner(e *sandbox.Engine) natsserver.Runner { return e }

func registerJanitor(lc fx.Lifecycle, janitor *sandbox.Janitor) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				janitor.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func registerHTTP(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *zap.Logger, server *httpapi.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := server.Start(); err != nil {
					log.Error("HTTP API stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: server.Shutdown,
	})
}

func registerMCP(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *zap.Logger, cfg *config.Config, server *mcpserver.MCPServer) {
	var serve func() error
	switch cfg.Server.MCPTransport {
	case "stdio":
		serve = server.ServeStdio
	case "http":
		serve = server.ServeHTTP
	default:
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("MCP server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: server.Shutdown,
	})
}

func registerNATS(lc fx.Lifecycle, responder *natsserver.Responder) {
	if !responder.Enabled() {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return responder.Start()
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			return responder.Stop(ctx)
		},
	})
}
