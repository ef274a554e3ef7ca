package builtin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

func readTool() mcp.Tool {
	return mcp.NewTool("read",
		mcp.WithDescription("Read the contents of a file, optionally with line offset and limit."),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("The path to the file to read")),
		mcp.WithNumber("offset", mcp.Description("Line number to start reading from (1-based)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of lines to read")),
	)
}

// read returns numbered lines of a file.
func (t *tools) read(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("file_path")
	if err != nil {
		return domainError("file_path is required"), nil
	}
	path, err := t.resolve(name)
	if err != nil {
		return domainError("%s", err), nil
	}
	offset := req.GetInt("offset", 0)
	limit := req.GetInt("limit", 0)

	f, err := os.Open(path)
	if err != nil {
		return domainError("failed to open file: %s", err), nil
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum, linesRead := 0, 0
	for scanner.Scan() {
		lineNum++
		if offset > 0 && lineNum < offset {
			continue
		}
		if limit > 0 && linesRead >= limit {
			break
		}
		fmt.Fprintf(&b, "%d\t%s\n", lineNum, scanner.Text())
		linesRead++
	}
	if err := scanner.Err(); err != nil {
		return domainError("error reading file: %s", err), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}
