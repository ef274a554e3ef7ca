package builtin

import (
	"context"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mark3labs/mcp-go/mcp"
)

func globTool() mcp.Tool {
	return mcp.NewTool("glob",
		mcp.WithDescription("Find files matching a glob pattern. Supports ** for recursive matching."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Glob pattern to match files (e.g. **/*.go)")),
		mcp.WithString("path", mcp.Description("Base directory to search from; defaults to the workspace root")),
	)
}

// glob lists the files under path matching pattern, one per line.
func (t *tools) glob(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := req.RequireString("pattern")
	if err != nil || pattern == "" {
		return domainError("pattern is required"), nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return domainError("invalid glob pattern: %s", pattern), nil
	}
	base, err := t.resolve(req.GetString("path", ""))
	if err != nil {
		return domainError("%s", err), nil
	}
	info, err := os.Stat(base)
	if err != nil {
		return domainError("failed to access path: %s", err), nil
	}
	if !info.IsDir() {
		return domainError("path must be a directory"), nil
	}

	var matches []string
	err = doublestar.GlobWalk(os.DirFS(base), pattern, func(path string, d iofs.DirEntry) error {
		if !d.IsDir() {
			matches = append(matches, filepath.FromSlash(path))
		}
		return nil
	}, doublestar.WithNoFollow())
	if err != nil {
		return domainError("error matching pattern: %s", err), nil
	}
	if len(matches) == 0 {
		return mcp.NewToolResultText("no matches found"), nil
	}
	return mcp.NewToolResultText(strings.Join(matches, "\n")), nil
}
