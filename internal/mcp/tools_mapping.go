package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"composer/internal/jsonvalue"
	"composer/internal/mapping"
	"composer/internal/relation"
	"composer/internal/transform"
)

func (s *Server) registerMappingTools() {
	s.mcp.AddTool(mcp.NewTool("bind_field",
		mcp.WithDescription("Bind an output field to a path in a source. Re-binding the same field and source keeps the mapping ID and its transformations."),
		mcp.WithString("targetPath", mcp.Description("Output field, e.g. rss.channel.items[*].title"), mcp.Required()),
		mcp.WithString("sourceId", mcp.Description("Source ID"), mcp.Required()),
		mcp.WithString("sourcePath", mcp.Description("Source path, e.g. posts[*].title"), mcp.Required()),
	), s.handleBindField)

	s.mcp.AddTool(mcp.NewTool("unbind_field",
		mcp.WithDescription("Remove a mapping"),
		mcp.WithString("mappingId", mcp.Description("Mapping ID"), mcp.Required()),
	), s.handleUnbindField)

	s.mcp.AddTool(mcp.NewTool("list_mappings",
		mcp.WithDescription("List field mappings, optionally only those of one output field"),
		mcp.WithString("targetPath", mcp.Description("Output field (optional)")),
	), s.handleListMappings)

	s.mcp.AddTool(mcp.NewTool("list_transformations",
		mcp.WithDescription("List the registered transformation types"),
	), s.handleListTransformations)

	s.mcp.AddTool(mcp.NewTool("set_transformations",
		mcp.WithDescription(`Configure how a mapped value is transformed. Steps run in order; a failing step yields its config.fallback when set, otherwise the previous value.
Examples:
- {"type":"date-format","config":{"format":"rfc1123"}}
- {"type":"compute","config":{"expression":"value * 1.2"}}
- {"type":"lookup","config":{"table":{"a":"Alpha"}}} (unmatched values pass through unchanged)`),
		mcp.WithString("mappingId", mcp.Description("Mapping ID"), mcp.Required()),
		mcp.WithString("stepsJSON", mcp.Description("JSON array of {type, config} steps (replaces the pipeline)")),
		mcp.WithString("appendJSON", mcp.Description("One {type, config} step appended to the pipeline")),
		mcp.WithString("fallbackJSON", mcp.Description("Value used when the source read is undefined or null")),
		mcp.WithString("conditional", mcp.Description("Expression gating the mapping, e.g. record.status == \"published\". Empty string clears it.")),
	), s.handleSetTransformations)

	s.mcp.AddTool(mcp.NewTool("add_relationship",
		mcp.WithDescription("Join child source records into parent records by key"),
		mcp.WithString("relationshipJSON", mcp.Description(`{parentSourceId, parentKey, childSourceId, foreignKey, cardinality (one-to-one|one-to-many|many-to-many), embedAs, includeOrphans}`), mcp.Required()),
	), s.handleAddRelationship)

	s.mcp.AddTool(mcp.NewTool("remove_relationship",
		mcp.WithDescription("Remove a relationship"),
		mcp.WithString("relationshipId", mcp.Description("Relationship ID"), mcp.Required()),
	), s.handleRemoveRelationship)
}

func (s *Server) handleBindField(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	target, err := requireString(args, "targetPath")
	if err != nil {
		return nil, err
	}
	sourceID, err := requireString(args, "sourceId")
	if err != nil {
		return nil, err
	}
	sourcePath, err := requireString(args, "sourcePath")
	if err != nil {
		return nil, err
	}

	fm := s.engine.Mapper().Bind(target, sourceID, sourcePath)
	s.mappingChanged(ctx, "bind_field")

	out := map[string]any{"mapping": fm}
	if v, ok := s.engine.Preview(target, sourceID); ok {
		out["preview"] = v
	}
	return jsonResult(out)
}

func (s *Server) handleUnbindField(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req.GetArguments(), "mappingId")
	if err != nil {
		return nil, err
	}
	if !s.engine.Mapper().Unbind(id) {
		return nil, fmt.Errorf("%w: %s", mapping.ErrUnknownMapping, id)
	}
	s.mappingChanged(ctx, "unbind_field")
	return textResult(fmt.Sprintf("Removed mapping %s", id)), nil
}

func (s *Server) handleListMappings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := s.engine.Mapper().Config()
	if target := req.GetString("targetPath", ""); target != "" {
		return jsonResult(cfg.MappingsFor(target))
	}
	return jsonResult(cfg.Mappings())
}

func (s *Server) handleListTransformations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.engine.Mapper().Registry().Kinds())
}

func (s *Server) handleSetTransformations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, err := requireString(args, "mappingId")
	if err != nil {
		return nil, err
	}
	m := s.engine.Mapper()
	if _, ok := m.Config().MappingByID(id); !ok {
		return nil, fmt.Errorf("%w: %s", mapping.ErrUnknownMapping, id)
	}

	var steps []transform.Step
	setSteps, err := decodeArg(args, "stepsJSON", &steps)
	if err != nil {
		return nil, err
	}
	var step transform.Step
	appendStep, err := decodeArg(args, "appendJSON", &step)
	if err != nil {
		return nil, err
	}
	var fallback jsonvalue.Value
	setFallback, err := decodeArg(args, "fallbackJSON", &fallback)
	if err != nil {
		return nil, err
	}
	expr, setConditional := args["conditional"].(string)
	expr = strings.TrimSpace(expr)
	if setConditional {
		if err := m.ValidateConditional(expr); err != nil {
			return nil, err
		}
	}

	// all changes land in one update, or none do
	err = m.Update(func(c mapping.Config) (mapping.Config, error) {
		var err error
		if setSteps {
			if c, err = c.WithTransformations(id, steps); err != nil {
				return c, err
			}
		}
		if appendStep {
			if c, err = c.WithTransformationStep(id, step); err != nil {
				return c, err
			}
		}
		if setFallback {
			if c, err = c.WithFallback(id, fallback); err != nil {
				return c, err
			}
		}
		if setConditional {
			if c, err = c.WithConditional(id, expr); err != nil {
				return c, err
			}
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	fm, _ := m.Config().MappingByID(id)
	s.mappingChanged(ctx, "set_transformations")
	out := map[string]any{"mapping": fm}
	if v, ok := s.engine.Preview(fm.TargetPath, fm.SourceID); ok {
		out["preview"] = v
	}
	return jsonResult(out)
}

func (s *Server) handleAddRelationship(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var r relation.Relationship
	ok, err := decodeArg(req.GetArguments(), "relationshipJSON", &r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("relationshipJSON is required")
	}
	if err := s.engine.Mapper().AddRelationship(r); err != nil {
		return nil, err
	}
	s.mappingChanged(ctx, "add_relationship")
	return jsonResult(s.engine.Mapper().Config().Relationships())
}

func (s *Server) handleRemoveRelationship(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req.GetArguments(), "relationshipId")
	if err != nil {
		return nil, err
	}
	err = s.engine.Mapper().Update(func(c mapping.Config) (mapping.Config, error) {
		for _, r := range c.Relationships() {
			if r.ID == id {
				return c.WithoutRelationship(id), nil
			}
		}
		return c, fmt.Errorf("unknown relationship %q", id)
	})
	if err != nil {
		return nil, err
	}
	s.mappingChanged(ctx, "remove_relationship")
	return textResult(fmt.Sprintf("Removed relationship %s", id)), nil
}
