// Package mcp exposes the tool catalog as a Model Context Protocol server
// over streamable HTTP. Tool calls go through the same dispatcher as the
// REST API, so gating and error classification are identical.
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/flowgate/internal/domain/hitl"
	"github.com/Strob0t/flowgate/internal/domain/tool"
	"github.com/Strob0t/flowgate/internal/logger"
	"github.com/Strob0t/flowgate/internal/middleware"
)

// EndpointPath is where the streamable HTTP transport is mounted.
const EndpointPath = "/mcp"

// Dispatcher runs tool invocations.
type Dispatcher interface {
	Tools() []tool.Descriptor
	Dispatch(ctx context.Context, inv tool.Invocation) (any, error)
}

// ApprovalReader reads approval records for the resources.
type ApprovalReader interface {
	List(ctx context.Context, f hitl.Filter) ([]hitl.Request, error)
	Get(ctx context.Context, id string) (*hitl.Request, error)
}

// ServerConfig holds MCP server identity.
type ServerConfig struct {
	Name    string
	Version string
}

// ServerDeps holds the services the server exposes. Approvals may be nil.
type ServerDeps struct {
	Dispatcher Dispatcher
	Approvals  ApprovalReader
}

// Server wraps an mcp-go server and its HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	transport *mcpserver.StreamableHTTPServer
}

// NewServer creates the server and registers one MCP tool per catalog
// entry.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{cfg: cfg, deps: deps}
	s.mcpServer = mcpserver.NewMCPServer(cfg.Name, cfg.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	if deps.Approvals != nil {
		s.registerResources()
	}
	s.transport = mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath(EndpointPath),
		mcpserver.WithStateLess(true),
		mcpserver.WithHTTPContextFunc(requestContext),
	)
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the HTTP handler to mount at EndpointPath.
func (s *Server) Handler() http.Handler { return s.transport }

// requestContext carries the inbound correlation id into tool calls.
func requestContext(ctx context.Context, r *http.Request) context.Context {
	if logger.RequestID(ctx) != "" {
		return ctx
	}
	if id := r.Header.Get(middleware.HeaderRequestID); id != "" {
		return logger.WithRequestID(ctx, id)
	}
	return ctx
}
