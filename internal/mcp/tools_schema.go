package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"composer/internal/notify"
	"composer/internal/schema"
)

func (s *Server) registerSchemaTools() {
	s.mcp.AddTool(mcp.NewTool("synthesize_schema",
		mcp.WithDescription("🛑 DESTRUCTIVE: Replace the output schema with the default tree of a format. rss and atom use fixed skeletons; csv, xml and json are derived from the source catalogues."),
		mcp.WithString("format", mcp.Description("Output format"), mcp.Required(),
			mcp.Enum("json", "xml", "csv", "rss", "atom")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleSynthesizeSchema)

	s.mcp.AddTool(mcp.NewTool("import_schema",
		mcp.WithDescription("🛑 DESTRUCTIVE: Replace the output schema with one converted from an OpenAPI 3, Swagger 2 or JSON Schema document (JSON or YAML). $ref schemas are kept as references."),
		mcp.WithString("document", mcp.Description("Specification document text"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleImportSchema)

	s.mcp.AddTool(mcp.NewTool("get_schema",
		mcp.WithDescription("Return the output schema tree and its addressable target paths"),
	), s.handleGetSchema)

	s.mcp.AddTool(mcp.NewTool("remove_target",
		mcp.WithDescription("🛑 DESTRUCTIVE: Remove an output field and every mapping at or beneath it."),
		mcp.WithString("targetPath", mcp.Description("Target path, e.g. rss.channel.items[*].author"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRemoveTarget)
}

func (s *Server) handleSynthesizeSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := schema.ParseFormat(req.GetString("format", ""))
	if err != nil {
		return nil, err
	}
	var catalogues []schema.Source
	cache := s.samples.Cache()
	for _, id := range cache.Sources() {
		if snap, ok := cache.Get(id); ok {
			catalogues = append(catalogues, schema.Source{ID: id, Name: snap.SourceName, Entries: snap.Entries})
		}
	}
	root := schema.Synthesize(format, catalogues)
	s.engine.Mapper().SetSchema(root)
	s.mappingChanged(ctx, "synthesize_schema")
	return jsonResult(map[string]any{"schema": root, "paths": root.Paths()})
}

func (s *Server) handleImportSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := requireString(req.GetArguments(), "document")
	if err != nil {
		return nil, err
	}
	rec := &notify.Recorder{}
	root, dialect, err := schema.NewImporter(rec).Convert([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("import schema: %w", err)
	}
	s.engine.Mapper().SetSchema(root)
	s.mappingChanged(ctx, "import_schema")
	return jsonResult(map[string]any{
		"dialect":  dialect,
		"paths":    root.Paths(),
		"warnings": rec.Snapshot(),
	})
}

func (s *Server) handleGetSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root := s.engine.Mapper().Config().Schema()
	if root == nil {
		return textResult("No output schema yet (use synthesize_schema or import_schema)"), nil
	}
	return jsonResult(map[string]any{"schema": root, "paths": root.Paths()})
}

func (s *Server) handleRemoveTarget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := requireString(req.GetArguments(), "targetPath")
	if err != nil {
		return nil, err
	}
	s.engine.Mapper().RemoveTarget(path)
	s.mappingChanged(ctx, "remove_target")
	return textResult(fmt.Sprintf("Removed %s", path)), nil
}
