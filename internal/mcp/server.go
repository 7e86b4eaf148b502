package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"composer/internal/catalog"
	"composer/internal/engine"
	"composer/internal/service"
)

// EventMappingChanged is emitted after any tool that changes the mapping
// configuration.
const EventMappingChanged = "mapping:changed"

// Server is the MCP server for the composer.
// It exposes tools, resources, and prompts so a front end or an agent can
// browse source catalogues, build mappings and preview composed output.
type Server struct {
	mcp     *server.MCPServer
	emitter service.EventEmitter

	engine  *engine.Engine
	samples *service.SampleService
	indexer *catalog.Indexer

	saveBundle func(context.Context) error
}

// Deps holds all dependencies passed from the app layer to the MCP server.
type Deps struct {
	Emitter service.EventEmitter
	Engine  *engine.Engine
	Samples *service.SampleService
	Indexer *catalog.Indexer

	// SaveBundle persists the mapping configuration. Nil disables save_bundle.
	SaveBundle func(context.Context) error
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	if deps.Emitter == nil {
		deps.Emitter = service.LogEmitter{}
	}
	if deps.Indexer == nil {
		deps.Indexer = catalog.NewIndexer()
	}
	s := &Server{
		emitter:    deps.Emitter,
		engine:     deps.Engine,
		samples:    deps.Samples,
		indexer:    deps.Indexer,
		saveBundle: deps.SaveBundle,
	}

	s.mcp = server.NewMCPServer(
		"composer-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	// Catalogue discovery
	s.registerSourceTools()
	// Schema and mapping authoring
	s.registerSchemaTools()
	s.registerMappingTools()
	// Preview and evaluation
	s.registerOutputTools()

	s.registerResources()
	s.registerPrompts()
	return s
}

// MCP returns the underlying mcp-go server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	slog.Info("mcp: starting stdio server")
	return server.ServeStdio(s.mcp)
}

// ── Helpers ────────────────────────────────────────────────

// mappingChanged notifies the front end that the configuration changed.
func (s *Server) mappingChanged(ctx context.Context, tool string) {
	s.emitter.Emit(ctx, EventMappingChanged, map[string]string{"tool": tool})
}

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}
