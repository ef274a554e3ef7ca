package builtin

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mark3labs/mcp-go/mcp"
)

func grepTool() mcp.Tool {
	return mcp.NewTool("grep",
		mcp.WithDescription("Search file contents with a regular expression. Returns matching lines as file:line:content."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Regular expression pattern to search for")),
		mcp.WithString("path", mcp.Description("File or directory to search in; defaults to the workspace root")),
		mcp.WithString("glob", mcp.Description("Glob pattern to filter files (e.g. **/*.go)")),
	)
}

func (t *tools) grep(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := req.RequireString("pattern")
	if err != nil || pattern == "" {
		return domainError("pattern is required"), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return domainError("invalid regex pattern: %s", err), nil
	}
	filter := req.GetString("glob", "")
	if filter != "" && !doublestar.ValidatePattern(filter) {
		return domainError("invalid glob pattern: %s", filter), nil
	}
	base, err := t.resolve(req.GetString("path", ""))
	if err != nil {
		return domainError("%s", err), nil
	}
	info, err := os.Stat(base)
	if err != nil {
		return domainError("failed to access path: %s", err), nil
	}

	var b strings.Builder
	if !info.IsDir() {
		grepFile(&b, base, t.rel(base), re)
	} else {
		err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			if filter != "" {
				rel, relErr := filepath.Rel(base, path)
				if relErr != nil {
					return nil
				}
				if ok, _ := doublestar.Match(filter, filepath.ToSlash(rel)); !ok {
					return nil
				}
			}
			grepFile(&b, path, t.rel(path), re)
			return nil
		})
		if err != nil {
			return domainError("error walking directory: %s", err), nil
		}
	}

	if b.Len() == 0 {
		return mcp.NewToolResultText("no matches found"), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

// grepFile writes the matching lines of path. Binary files are skipped.
func grepFile(b *strings.Builder, path, display string, re *regexp.Regexp) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	header := make([]byte, 512)
	n, _ := f.Read(header)
	if n == 0 || bytes.ContainsRune(header[:n], 0) {
		return
	}
	if _, err := f.Seek(0, 0); err != nil {
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if line := scanner.Text(); re.MatchString(line) {
			fmt.Fprintf(b, "%s:%d:%s\n", display, lineNum, line)
		}
	}
	// Partial results are kept on oversized lines, like grep.
}
