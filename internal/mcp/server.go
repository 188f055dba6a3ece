// Package mcp exposes the quality-gate engine as MCP tools over stdio,
// calling the session controller and gate manager directly.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/gated/internal/approval"
	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/session"
)

// Server is the MCP server over the engine's services.
type Server struct {
	mcp          *mcp.Server
	controller   *session.Controller
	gates        *gate.Manager
	ledger       *approval.Ledger
	toolRegistry *ToolRegistry
	metrics      *Metrics
	logger       *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "gated").
	Name string

	// Version is the server version (default: "1.0.0").
	Version string

	// Logger for structured logging.
	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "gated",
		Version: "1.0.0",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates an MCP server over the given services.
func NewServer(cfg *Config, controller *session.Controller, gates *gate.Manager, ledger *approval.Ledger) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if controller == nil {
		return nil, fmt.Errorf("session controller is required")
	}
	if gates == nil {
		return nil, fmt.Errorf("gate manager is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("approval ledger is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:          mcpServer,
		controller:   controller,
		gates:        gates,
		ledger:       ledger,
		toolRegistry: NewToolRegistry(),
		metrics:      NewMetrics(cfg.Logger),
		logger:       cfg.Logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Registry exposes the tool registry.
func (s *Server) Registry() *ToolRegistry {
	return s.toolRegistry
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
