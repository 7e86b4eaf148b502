package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"composer/internal/mapping"
)

const (
	bundleURI          = "composer://bundle"
	catalogURIPrefix   = "composer://catalog/"
	catalogURITemplate = catalogURIPrefix + "{sourceId}"
)

func (s *Server) registerResources() {
	// ── composer://bundle ──────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		bundleURI,
		"Mapping Bundle",
		mcp.WithMIMEType("application/json"),
	), s.handleBundleResource)

	// ── composer://catalog/{sourceId} ──────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			catalogURITemplate,
			"Source Catalogue",
		),
		s.handleCatalogResource,
	)
}

func (s *Server) handleBundleResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := mapping.EncodeJSON(s.engine.Mapper().Config().Bundle())
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      bundleURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleCatalogResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	sourceID := strings.TrimPrefix(uri, catalogURIPrefix)
	if sourceID == "" || sourceID == uri || strings.Contains(sourceID, "/") {
		return nil, fmt.Errorf("could not extract sourceId from URI: %s", uri)
	}

	snap, ok := s.samples.Cache().Get(sourceID)
	if !ok {
		return nil, fmt.Errorf("no catalogue for source %q", sourceID)
	}
	data, _ := json.MarshalIndent(snap.Entries, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
