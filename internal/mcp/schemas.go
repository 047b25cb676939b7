package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/cindex-mcp/pkg/types"
)

// indexProjectTool returns the tool definition for index_project
func indexProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_project",
		Description: "Index a C/C++ project so its declarations and references can be queried",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project root",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "Discard the existing index and rebuild it from scratch",
					"default":     false,
				},
				"wait": map[string]interface{}{
					"type":        "boolean",
					"description": "Block until the sweep has finished",
					"default":     true,
				},
				"timeout_seconds": map[string]interface{}{
					"type":        "integer",
					"description": "Upper bound on the wait",
					"default":     300,
					"minimum":     1,
				},
			},
			Required: []string{"path"},
		},
	}
}

// findSymbolsTool returns the tool definition for find_symbols
func findSymbolsTool() mcp.Tool {
	kinds := make([]string, 0, len(types.AllKinds))
	for _, k := range types.AllKinds {
		kinds = append(kinds, string(k))
	}

	return mcp.Tool{
		Name:        "find_symbols",
		Description: "Find declarations and references by name in an indexed C/C++ project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the indexed project",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Name to look up, optionally qualified (ns::Widget, ::main)",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "How the innermost name segment is compared",
					"enum":        []string{"exact", "prefix", "pattern"},
					"default":     "exact",
				},
				"kinds": map[string]interface{}{
					"type":        "array",
					"description": "Restrict results to these entry kinds",
					"items": map[string]interface{}{
						"type": "string",
						"enum": kinds,
					},
				},
				"role": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to declarations or references",
					"enum":        []string{string(types.RoleDeclaration), string(types.RoleReference)},
				},
				"case_insensitive": map[string]interface{}{
					"type":    "boolean",
					"default": false,
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
					"default":     50,
					"minimum":     1,
					"maximum":     1000,
				},
			},
			Required: []string{"path", "name"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index state, statistics and problems for a C/C++ project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project",
				},
				"include_problems": map[string]interface{}{
					"type":        "boolean",
					"description": "List the recorded problems",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// removeProjectTool returns the tool definition for remove_project
func removeProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "remove_project",
		Description: "Unload a project's index, optionally deleting the saved copy",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project",
				},
				"purge": map[string]interface{}{
					"type":        "boolean",
					"description": "Also delete the saved index and recorded problems",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}
