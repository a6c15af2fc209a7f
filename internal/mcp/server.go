// Package mcp exposes eventforge operations as Model Context Protocol tools,
// so an assistant can list destinations, try generators, clean their output
// and deliver events without going through the HTTP API.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/eventforge/internal/delivery"
	"github.com/fyrsmithlabs/eventforge/internal/destination"
	"github.com/fyrsmithlabs/eventforge/internal/executor"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Destinations lists configured destinations.
type Destinations interface {
	List() []destination.Destination
}

// Deps are the components the tools call into.
type Deps struct {
	Destinations Destinations
	Pipeline     *delivery.Pipeline
	Executor     *executor.Executor
	Resolver     *executor.Resolver
}

// Server is an MCP server backed by the daemon's components.
type Server struct {
	mcp      *mcp.Server
	deps     Deps
	metrics  *Metrics
	logger   *zap.Logger
	maxLines int
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "eventforge")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// MaxOutputLines caps the progress lines a generate_events result
	// carries; earlier lines are dropped. Default: 200.
	MaxOutputLines int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:           "eventforge",
		Version:        "dev",
		Logger:         zap.NewNop(),
		MaxOutputLines: 200,
	}
}

// NewServer creates an MCP server and registers its tools.
func NewServer(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Destinations == nil || deps.Pipeline == nil {
		return nil, errors.New("destinations and pipeline are required")
	}
	if deps.Executor == nil || deps.Resolver == nil {
		return nil, errors.New("executor and resolver are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxLines := cfg.MaxOutputLines
	if maxLines <= 0 {
		maxLines = DefaultConfig().MaxOutputLines
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		deps:     deps,
		metrics:  NewMetrics(logger),
		logger:   logger,
		maxLines: maxLines,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on stdin/stdout until the client disconnects or ctx is
// cancelled. Nothing else may write to stdout meanwhile.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session over t.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
