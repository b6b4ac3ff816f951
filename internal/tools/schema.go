package tools

import "github.com/mark3labs/mcp-go/mcp"

// ObjectSchema builds a tool's JSON Schema input shape using mcp-go's typed
// property builders (the same idiom kandev's internal/mcpserver uses to
// describe its own tool surface via mcp.NewTool/mcp.WithString) instead of
// hand-written map literals, then flattens the result into the plain
// map[string]any Def.InputSchema carries so it serializes directly into a
// decision-maker request.
func ObjectSchema(opts ...mcp.ToolOption) map[string]any {
	t := mcp.NewTool("_schema", opts...)
	schema := map[string]any{
		"type": t.InputSchema.Type,
	}
	if len(t.InputSchema.Properties) > 0 {
		schema["properties"] = t.InputSchema.Properties
	}
	if len(t.InputSchema.Required) > 0 {
		schema["required"] = t.InputSchema.Required
	}
	return schema
}
