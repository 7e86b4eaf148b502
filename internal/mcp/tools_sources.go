package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"composer/internal/domain"
	"composer/internal/etl"
	"composer/internal/infer"
	"composer/internal/jsonvalue"
	"composer/internal/service"
)

func (s *Server) registerSourceTools() {
	s.mcp.AddTool(mcp.NewTool("list_source_types",
		mcp.WithDescription("List available data source types with their configuration fields"),
	), s.handleListSourceTypes)

	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List configured data sources and the state of their catalogues"),
	), s.handleListSources)

	s.mcp.AddTool(mcp.NewTool("add_source",
		mcp.WithDescription("Add or replace a data source and index a fresh sample of it"),
		mcp.WithString("sourceJSON", mcp.Description(`Data source as JSON: {id, name, type, config, filters, refresh, sampleDocument}.
A source without a type is indexed from its sampleDocument.
Example: {"id":"blog","type":"http","config":{"url":"https://api.example/posts","dataPath":"data"}}`), mcp.Required()),
	), s.handleAddSource)

	s.mcp.AddTool(mcp.NewTool("remove_source",
		mcp.WithDescription("🛑 DESTRUCTIVE: Remove a data source, its catalogue, and every mapping and relationship that names it."),
		mcp.WithString("sourceId", mcp.Description("Source ID"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRemoveSource)

	s.mcp.AddTool(mcp.NewTool("refresh_sources",
		mcp.WithDescription("Fetch fresh samples and re-index catalogues. Failed sources keep their previous catalogue."),
		mcp.WithString("sourceId", mcp.Description("Source ID (optional, defaults to all sources)")),
	), s.handleRefreshSources)

	s.mcp.AddTool(mcp.NewTool("get_catalog",
		mcp.WithDescription("List the discovered paths of a source with their inferred types and sample values"),
		mcp.WithString("sourceId", mcp.Description("Source ID"), mcp.Required()),
	), s.handleGetCatalog)

	s.mcp.AddTool(mcp.NewTool("index_document",
		mcp.WithDescription("Index a JSON or YAML document without registering a source"),
		mcp.WithString("document", mcp.Description("Document text"), mcp.Required()),
	), s.handleIndexDocument)

	s.mcp.AddTool(mcp.NewTool("infer_type",
		mcp.WithDescription("Classify a source path into a semantic type, optionally from a sample value"),
		mcp.WithString("path", mcp.Description("Source path, e.g. posts[*].publishedAt"), mcp.Required()),
		mcp.WithString("valueJSON", mcp.Description("Sample value as JSON (optional)")),
	), s.handleInferType)
}

func (s *Server) handleListSourceTypes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(etl.ListSources())
}

type sourceSummary struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        domain.SourceType `json:"type,omitempty"`
	Refresh     string            `json:"refresh,omitempty"`
	Entries     int               `json:"entries"`
	RefreshedAt *time.Time        `json:"refreshedAt,omitempty"`
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	srcs := s.samples.Sources()
	out := make([]sourceSummary, len(srcs))
	for i, src := range srcs {
		out[i] = sourceSummary{ID: src.ID, Name: src.DisplayName(), Type: src.Type, Refresh: src.Refresh}
		if snap, ok := s.samples.Cache().Get(src.ID); ok {
			at := snap.RefreshedAt
			out[i].Entries = len(snap.Entries)
			out[i].RefreshedAt = &at
		}
	}
	return jsonResult(out)
}

func (s *Server) handleAddSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var src domain.DataSource
	ok, err := decodeArg(req.GetArguments(), "sourceJSON", &src)
	if err != nil {
		return nil, err
	}
	if !ok || src.ID == "" {
		return nil, fmt.Errorf("sourceJSON with an id is required")
	}
	if src.Type == "" && src.SampleDocument.IsUndefined() {
		return nil, fmt.Errorf("source %s: type or sampleDocument is required", src.ID)
	}

	s.samples.Register(src)
	snap, err := s.samples.Refresh(ctx, src, service.TriggerManual)
	if err != nil {
		return nil, fmt.Errorf("index source: %w", err)
	}
	return jsonResult(map[string]any{"sourceId": src.ID, "entries": snap.Entries})
}

func (s *Server) handleRemoveSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req.GetArguments(), "sourceId")
	if err != nil {
		return nil, err
	}
	if _, ok := s.samples.Source(id); !ok {
		return nil, fmt.Errorf("unknown source %q", id)
	}
	s.samples.Unregister(id)
	s.engine.Mapper().RemoveSource(id)
	s.mappingChanged(ctx, "remove_source")
	return textResult(fmt.Sprintf("Removed source %s", id)), nil
}

func (s *Server) handleRefreshSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("sourceId", "")
	srcs := s.samples.Sources()
	if id != "" {
		src, ok := s.samples.Source(id)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", id)
		}
		srcs = []domain.DataSource{src}
	}

	type outcome struct {
		SourceID string `json:"sourceId"`
		Entries  int    `json:"entries"`
		Error    string `json:"error,omitempty"`
	}
	results := s.samples.RefreshAll(ctx, srcs, service.TriggerManual)
	out := make([]outcome, len(results))
	for i, r := range results {
		out[i] = outcome{SourceID: r.SourceID, Entries: r.Entries}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return jsonResult(out)
}

func (s *Server) handleGetCatalog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req.GetArguments(), "sourceId")
	if err != nil {
		return nil, err
	}
	snap, ok := s.samples.Cache().Get(id)
	if !ok {
		return nil, fmt.Errorf("no catalogue for source %q (use refresh_sources first)", id)
	}
	return jsonResult(snap.Entries)
}

func (s *Server) handleIndexDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := requireString(req.GetArguments(), "document")
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(text)
	if err != nil {
		return nil, err
	}
	return jsonResult(s.indexer.Index(doc))
}

func (s *Server) handleInferType(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	var value jsonvalue.Value
	if _, err := decodeArg(args, "valueJSON", &value); err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{
		"path":         path,
		"semanticType": infer.Heuristic{}.Infer(path, value),
	})
}

// parseDocument accepts JSON or YAML text.
func parseDocument(text string) (jsonvalue.Value, error) {
	if doc, err := jsonvalue.Parse([]byte(text)); err == nil {
		return doc, nil
	}
	doc, err := jsonvalue.ParseYAML([]byte(text))
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("document is neither JSON nor YAML: %w", err)
	}
	return doc, nil
}
