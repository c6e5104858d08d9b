package httpapi

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/sandbox"
)

// maxBodySize caps request bodies; submissions are single source files.
const maxBodySize = 1 * 1024 * 1024

// RunCodeRequest is the body of POST /api/coding/run-code. Input is accepted
// as an alias of Stdin for older clients.
type RunCodeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin"`
	Input    string `json:"input"`
}

// RunCodeResponse is the body of a successful run. Failures of the submitted
// program are reported here too.
type RunCodeResponse struct {
	Output string `json:"output"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type languagesResponse struct {
	Languages []string `json:"languages"`
}

// Server is the HTTP front end of the engine.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	engine  *sandbox.Engine
	limiter *Limiter
	app     *fiber.App
}

// New creates the HTTP server and registers its routes.
func New(cfg *config.Config, logger *zap.Logger, engine *sandbox.Engine) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		engine:  engine,
		limiter: NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.MaxConcurrent),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "coderun",
		BodyLimit:             maxBodySize,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api/coding")
	api.Get("/languages", s.handleLanguages)
	api.Post("/run-code", s.limiter.Handler(), s.handleRunCode)
}

// App returns the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on server.http_addr and blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP API", zap.String("addr", s.cfg.Server.HTTPAddr))
	return s.app.Listen(s.cfg.Server.HTTPAddr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleLanguages(c *fiber.Ctx) error {
	return c.JSON(languagesResponse{Languages: s.engine.Registry().IDs()})
}

func (s *Server) handleRunCode(c *fiber.Ctx) error {
	var req RunCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.Language == "" {
		return fiber.NewError(fiber.StatusBadRequest, "language is required")
	}

	stdin := req.Stdin
	if stdin == "" {
		stdin = req.Input
	}

	result, err := s.engine.Run(c.UserContext(), sandbox.ExecutionRequest{
		Language: req.Language,
		Code:     req.Code,
		Stdin:    stdin,
	})
	if err != nil {
		if errors.Is(err, sandbox.ErrUnsupportedLanguage) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		s.logger.Error("run-code failed", zap.String("language", req.Language), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(RunCodeResponse{Output: result.Output})
}

// handleError renders every error as {"detail": ...}.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}
	return c.Status(code).JSON(errorResponse{Detail: err.Error()})
}
