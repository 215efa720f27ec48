package mcpserver

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 500
)

func clampLimit(limit, max int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	if limit > max {
		return max
	}
	return limit
}

func toolResult(data any) *mcp.CallToolResult {
	return mcp.NewToolResultStructuredOnly(data)
}

func toolError(code, message string) *mcp.CallToolResult {
	result := mcp.NewToolResultStructured(
		map[string]any{
			"error": map[string]any{
				"code":    code,
				"message": message,
			},
		},
		fmt.Sprintf("%s: %s", code, message),
	)
	result.IsError = true
	return result
}
