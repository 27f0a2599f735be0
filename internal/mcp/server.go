// Package mcp exposes the memory core as Model Context Protocol tools
// over the stdio transport.
//
// Unlike the HTTP gateway there is no bearer-token layer here: the
// transport is a local pipe to a trusted agent process, and each tool
// call names its tenancy pair explicitly.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Server exposes memory operations as MCP tools.
type Server struct {
	mcp    *mcp.Server
	core   *memory.Core
	logger *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "memoryd").
	Name string

	// Version is the server version (default: "1.0.0").
	Version string

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "memoryd",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server over the memory core.
func NewServer(cfg *Config, core *memory.Core) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if core == nil {
		return nil, fmt.Errorf("memory core is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:    mcpServer,
		core:   core,
		logger: cfg.Logger.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
