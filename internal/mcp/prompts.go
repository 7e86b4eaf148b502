package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("compose_feed",
		mcp.WithPromptDescription("Guide through turning one or more data sources into an RSS or Atom feed"),
		mcp.WithArgument("format",
			mcp.ArgumentDescription("Feed format: rss or atom"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("sources",
			mcp.ArgumentDescription("Comma-separated source IDs to draw items from"),
			mcp.RequiredArgument(),
		),
	), s.handleComposeFeedPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("implement_contract",
		mcp.WithPromptDescription("Map data sources onto an imported OpenAPI or JSON Schema contract"),
		mcp.WithArgument("contract",
			mcp.ArgumentDescription("Name or location of the specification document"),
			mcp.RequiredArgument(),
		),
	), s.handleImplementContractPrompt)
}

func (s *Server) handleComposeFeedPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	format := req.Params.Arguments["format"]
	sources := req.Params.Arguments["sources"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Compose a %s feed from %s", format, sources),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Compose a %s feed from the sources %s. Follow these steps:

1. Use list_sources to check every source has a catalogue; run refresh_sources if one is missing
2. Use get_catalog on each source to find the item list and the title, link and date fields
3. Run synthesize_schema with format "%s" and read the target paths it returns
4. Bind the channel or feed fields once, from the most descriptive source, with bind_field
5. Bind the item fields from every source, so each source contributes its own items
6. Add a date-format transformation to date fields (rfc1123 for rss, rfc3339 for atom) with set_transformations
7. Check single fields with preview_field, then run evaluate with format "%s"

Required fields left unmapped are written as empty elements; fix them before saving with save_bundle.`, format, sources, format, format),
				},
			},
		},
	}, nil
}

func (s *Server) handleImplementContractPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	contract := req.Params.Arguments["contract"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Implement the %s contract", contract),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Implement the response contract "%s" from the configured data sources. Follow these steps:

1. Pass the specification document to import_schema and note the dialect and any warnings
2. Use get_schema to list the target paths; fields marked with a ref are not expanded and need their own mapping
3. For each target path, find a matching source path with get_catalog and infer_type, then bind it with bind_field
4. When data for one record is spread over two sources, connect them with add_relationship
5. Use transformations (parse-number, date-format, lookup) where the source type differs from the contract
6. Run evaluate and compare the output with the contract, then save_bundle`, contract),
				},
			},
		},
	}, nil
}
