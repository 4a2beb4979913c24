// Package mcptools exposes the playground as MCP tools so assistants can edit,
// run and share programs.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aixgo-dev/playground/pkg/observability"
	"github.com/aixgo-dev/playground/pkg/playground"
	"github.com/aixgo-dev/playground/pkg/security"
)

// Tool names.
const (
	ToolState           = "playground_state"
	ToolEditProgram     = "playground_edit_program"
	ToolEditEnvironment = "playground_edit_environment"
	ToolRun             = "playground_run"
	ToolEval            = "playground_eval"
	ToolClear           = "playground_clear"
	ToolShare           = "playground_share"
	ToolOpen            = "playground_open"
)

// Evaluating tools are limited more tightly than reads and edits.
const (
	evalRequestsPerSecond = 5
	evalBurst             = 10
)

// Config names the server.
type Config struct {
	Name    string
	Version string
}

// Server serves playground tools over MCP.
type Server struct {
	pg      *playground.Playground
	server  *server.MCPServer
	limiter *security.ToolRateLimiter
}

// NewServer creates an MCP server with every playground tool registered.
func NewServer(cfg Config, pg *playground.Playground) *Server {
	if cfg.Name == "" {
		cfg.Name = "playground"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		pg: pg,
		server: server.NewMCPServer(
			cfg.Name,
			cfg.Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		limiter: security.NewToolRateLimiter(),
	}
	for _, name := range []string{ToolRun, ToolEval, ToolOpen} {
		s.limiter.SetToolLimit(name, evalRequestsPerSecond, evalBurst)
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.server
}

// Serve serves the tools over stdio until ctx is cancelled or stdin closes.
// Diagnostics go to errLog so they never mix with the protocol stream.
func (s *Server) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer, errLog *log.Logger) error {
	stdio := server.NewStdioServer(s.server)
	if errLog != nil {
		stdio.SetErrorLogger(errLog)
	}
	return stdio.Listen(ctx, stdin, stdout)
}

func (s *Server) registerTools() {
	s.add(mcp.NewTool(ToolState,
		mcp.WithDescription("Return the current program, environment, last result, transcript and error"),
	), s.handleState)

	s.add(mcp.NewTool(ToolEditProgram,
		mcp.WithDescription("Replace the program text. The program is not run until playground_run is called"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Full program source"),
		),
	), s.handleEditProgram)

	s.add(mcp.NewTool(ToolEditEnvironment,
		mcp.WithDescription("Replace the YAML environment document used by the next run"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Full environment document, may be empty"),
		),
	), s.handleEditEnvironment)

	s.add(mcp.NewTool(ToolRun,
		mcp.WithDescription("Run the program on a fresh interpreter configured by the environment"),
	), s.handleRun)

	s.add(mcp.NewTool(ToolEval,
		mcp.WithDescription("Evaluate one REPL line against the live interpreter"),
		mcp.WithString("line",
			mcp.Required(),
			mcp.Description("Expression or statement to evaluate"),
		),
	), s.handleEval)

	s.add(mcp.NewTool(ToolClear,
		mcp.WithDescription("Clear the program, environment, transcript and error"),
	), s.handleClear)

	s.add(mcp.NewTool(ToolShare,
		mcp.WithDescription("Return the share token and URL for the current program and environment"),
	), s.handleShare)

	s.add(mcp.NewTool(ToolOpen,
		mcp.WithDescription("Load a shared program from a token or share URL and run it"),
		mcp.WithString("token",
			mcp.Required(),
			mcp.Description("Share token, #token or share URL"),
		),
	), s.handleOpen)
}

// add registers handler behind the per-tool rate limit and call metrics.
func (s *Server) add(tool mcp.Tool, handler server.ToolHandlerFunc) {
	name := tool.Name
	s.server.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		if !s.limiter.Allow(name) {
			observability.RecordMCPToolCall(name, "rate_limited", time.Since(start))
			return mcp.NewToolResultError("rate limit exceeded for " + name), nil
		}

		result, err := handler(ctx, request)
		status := "success"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
		}
		observability.RecordMCPToolCall(name, status, time.Since(start))
		return result, err
	})
}

func (s *Server) handleState(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.pg.Snapshot())
}

func (s *Server) handleEditProgram(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.pg.Dispatch(ctx, playground.ProgramEdited{Text: text}))
}

func (s *Server) handleEditEnvironment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.pg.Dispatch(ctx, playground.EnvironmentEdited{Text: text}))
}

func (s *Server) handleRun(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.pg.Dispatch(ctx, playground.RunRequested{}))
}

func (s *Server) handleEval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	line, err := request.RequireString("line")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.pg.Dispatch(ctx, playground.LineSubmitted{Line: line}))
}

func (s *Server) handleClear(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.pg.Dispatch(ctx, playground.ClearRequested{}))
}

func (s *Server) handleShare(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, url, err := s.pg.Share()
	if err != nil {
		log.Printf("[MCP] WARNING: share: %v", err)
		return mcp.NewToolResultError(security.PublicMessage(err)), nil
	}
	return jsonResult(map[string]string{"token": token, "url": url})
}

func (s *Server) handleOpen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := request.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snapshot, err := s.pg.Load(ctx, token)
	if err != nil {
		if errors.Is(err, playground.ErrInvalidToken) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		log.Printf("[MCP] WARNING: open: %v", err)
		return mcp.NewToolResultError(security.PublicMessage(err)), nil
	}
	return jsonResult(snapshot)
}

func jsonResult(value any) (*mcp.CallToolResult, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(encoded)), nil
}
