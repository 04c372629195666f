// Package mcp serves the memory tools to other agents over the Model
// Context Protocol on stdio.
package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/cadre-oss/memchat/internal/telemetry"
	"github.com/cadre-oss/memchat/internal/tools"
)

const (
	serverName    = "memchat-memory"
	serverVersion = "0.1.0"
)

// Server exposes one executor's memory tools. Every call runs against the
// single namespace the executor is bound to.
type Server struct {
	mcp    *server.MCPServer
	logger *telemetry.Logger
}

// NewServer registers every memory tool on a fresh MCP server.
func NewServer(exec *tools.Executor, logger *telemetry.Logger) (*Server, error) {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}

	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	if err := registerTools(s, exec, logger); err != nil {
		return nil, err
	}
	return &Server{mcp: s, logger: logger}, nil
}

// Run serves on stdin/stdout until ctx is cancelled or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve speaks newline-delimited JSON-RPC on the given streams.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Slog().Handler(), slog.LevelError))

	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
