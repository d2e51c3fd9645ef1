package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	mcpsdk "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nerrad567/sqlitetool/internal/command"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/logging"
)

// ServerName is reported to clients during initialize.
const ServerName = "SQLite-tool"

// Server exposes the store operations as MCP tools backed by a
// command.Dispatcher.
type Server struct {
	dispatcher *command.Dispatcher
	logger     *logging.Logger
	mcp        *server.MCPServer
}

// NewServer creates a Server with every tool registered.
func NewServer(dispatcher *command.Dispatcher, logger *logging.Logger, version string) *Server {
	s := &Server{
		dispatcher: dispatcher,
		logger:     logger.With("component", "mcp"),
		mcp: server.NewMCPServer(ServerName, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	for _, def := range toolDefs {
		s.mcp.AddTool(def.Tool, s.handler(def))
	}
	return s
}

// Serve reads newline-delimited messages from r and writes responses to w
// until r is exhausted or ctx is cancelled. Both are a clean shutdown.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("stdio tool server ready")
	err := stdio.Listen(ctx, r, w)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio transport: %w", err)
	}
	s.logger.Info("stdio tool server stopped")
	return nil
}

// handler runs def through the dispatcher. The envelope travels as JSON
// text; failures set isError so clients can tell them apart without
// decoding it.
func (s *Server) handler(def toolDef) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args toolArgs
		if err := req.BindArguments(&args); err != nil {
			return mcpsdk.NewToolResultError(fmt.Sprintf("invalid arguments for %s: %v", def.Name, err)), nil
		}

		env := s.dispatcher.Dispatch(ctx, def.request(args))

		text, err := json.Marshal(env)
		if err != nil {
			s.logger.Error("encoding envelope", "tool", def.Name, "error", err)
			return nil, fmt.Errorf("encoding %s result: %w", def.Name, err)
		}
		res := mcpsdk.NewToolResultText(string(text))
		res.IsError = !env.OK()
		return res, nil
	}
}
