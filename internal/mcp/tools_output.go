package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"composer/internal/engine"
	"composer/internal/etl"
	"composer/internal/jsonvalue"
	"composer/internal/mapping"
	"composer/internal/schema"
)

func (s *Server) registerOutputTools() {
	s.mcp.AddTool(mcp.NewTool("preview_field",
		mcp.WithDescription("Resolve one output field against the cached sample of a source, running its transformations"),
		mcp.WithString("targetPath", mcp.Description("Output field"), mcp.Required()),
		mcp.WithString("sourceId", mcp.Description("Source ID"), mcp.Required()),
	), s.handlePreviewField)

	s.mcp.AddTool(mcp.NewTool("evaluate",
		mcp.WithDescription("Compose the output document and render it. By default the cached samples are used; with live=true every source is read in full."),
		mcp.WithString("format", mcp.Description("Output format (defaults to json)"),
			mcp.Enum("json", "xml", "csv", "rss", "atom")),
		mcp.WithBoolean("live", mcp.Description("Read every source in full instead of using cached samples")),
	), s.handleEvaluate)

	s.mcp.AddTool(mcp.NewTool("export_bundle",
		mcp.WithDescription("Return the mapping configuration bundle (schema, mappings, relationships)"),
		mcp.WithString("encoding", mcp.Description("json or yaml (defaults to json)"), mcp.Enum("json", "yaml")),
	), s.handleExportBundle)

	s.mcp.AddTool(mcp.NewTool("save_bundle",
		mcp.WithDescription("Write the mapping configuration bundle to the configured bundle file"),
	), s.handleSaveBundle)
}

func (s *Server) handlePreviewField(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	target, err := requireString(args, "targetPath")
	if err != nil {
		return nil, err
	}
	sourceID, err := requireString(args, "sourceId")
	if err != nil {
		return nil, err
	}
	v, ok := s.engine.Preview(target, sourceID)
	if !ok {
		return textResult(fmt.Sprintf("%s is not mapped from %s, or %s has no cached sample", target, sourceID, sourceID)), nil
	}
	if v.IsUndefined() {
		return textResult("(undefined)"), nil
	}
	return jsonResult(v)
}

func (s *Server) handleEvaluate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := schema.FormatJSON
	if f := req.GetString("format", ""); f != "" {
		var err error
		if format, err = schema.ParseFormat(f); err != nil {
			return nil, err
		}
	}

	var doc jsonvalue.Value
	var err error
	if req.GetBool("live", false) {
		runner := &etl.Runner{Engine: s.engine}
		batches, rerr := runner.Read(ctx, s.samples.Sources(), nil)
		if rerr != nil {
			return nil, fmt.Errorf("read sources: %w", rerr)
		}
		doc, err = s.engine.Evaluate(batches)
	} else {
		doc, err = s.engine.EvaluateSamples()
	}
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	data, err := engine.Render(format, s.engine.Mapper().Config().Schema(), doc)
	if err != nil {
		return nil, err
	}
	return textResult(string(data)), nil
}

func (s *Server) handleExportBundle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	b := s.engine.Mapper().Config().Bundle()
	var data []byte
	var err error
	if req.GetString("encoding", "json") == "yaml" {
		data, err = mapping.EncodeYAML(b)
	} else {
		data, err = mapping.EncodeJSON(b)
	}
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	return textResult(string(data)), nil
}

func (s *Server) handleSaveBundle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.saveBundle == nil {
		return nil, fmt.Errorf("no bundle file configured")
	}
	if err := s.saveBundle(ctx); err != nil {
		return nil, err
	}
	return textResult("Bundle saved"), nil
}
