package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/coderun/config"
	"github.com/isdmx/coderun/sandbox"
)

// ToolRunCode is the name of the code execution tool.
const ToolRunCode = "run_code"

// Runner is the part of the engine the MCP server needs.
type Runner interface {
	Run(ctx context.Context, req sandbox.ExecutionRequest) (sandbox.Result, error)
	Registry() *sandbox.Registry
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	runner     Runner
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, runner Runner) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		runner: runner,
	}

	s.mcpServer = server.NewMCPServer("coderun", "Sandboxed code execution", server.WithToolCapabilities(false))
	s.registerRunCodeTool()

	return s, nil
}

// registerRunCodeTool registers the run_code tool
func (s *MCPServer) registerRunCodeTool() {
	s.mcpServer.AddTool(s.runCodeTool(), s.handleRunCode)
}

func (s *MCPServer) runCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolRunCode,
		Description: "Compile and run a program in a network-less, resource-limited container and return its output",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"language": map[string]any{
					"type":        "string",
					"description": "Program language",
					"enum":        s.runner.Registry().IDs(),
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Program source. Java sources are run as class MyClass.",
				},
				"stdin": map[string]any{
					"type":        "string",
					"description": "Text fed to the program on standard input (optional)",
				},
			},
			Required: []string{"language", "code"},
		},
	}
}

// handleRunCode handles the run_code tool. Failures of the program are
// returned as output; only bad arguments are tool errors.
func (s *MCPServer) handleRunCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	language, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}

	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	stdin := request.GetString("stdin", "")

	s.logger.Info("code execution requested", zap.String("language", language), zap.Int("code_len", len(code)))

	result, err := s.runner.Run(ctx, sandbox.ExecutionRequest{
		Language: language,
		Code:     code,
		Stdin:    stdin,
	})
	if err != nil {
		if errors.Is(err, sandbox.ErrUnsupportedLanguage) {
			return nil, err
		}
		s.logger.Error("sandbox execution failed", zap.String("language", language), zap.Error(err))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Execution failed: %v", err),
				},
			},
			IsError: true,
		}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: result.Output,
			},
		},
		IsError: result.Outcome == sandbox.ConfigurationFailure || result.Outcome == sandbox.InfrastructureFailure,
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on streamable HTTP and blocks until Shutdown.
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.MCPHTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)
	return s.httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport if it was started.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

