// Package builtin serves the workspace tools (read, glob, grep, bash) as an
// in-process MCP server. Every path argument is confined to the server root.
package builtin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Name is the server name announced to MCP clients.
const Name = "builtin"

// ErrOutsideRoot is returned for paths that escape the server root.
var ErrOutsideRoot = errors.New("builtin: path outside root")

type tools struct {
	root string
	// real is root with symlinks evaluated.
	real string
}

// NewServer returns an MCP server exposing the workspace tools rooted at
// root.
func NewServer(root string) (*server.MCPServer, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("builtin: root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("builtin: root: %w", err)
	}
	t := &tools{root: abs, real: real}

	srv := server.NewMCPServer(Name, "1.0.0", server.WithToolCapabilities(false))
	srv.AddTool(readTool(), t.read)
	srv.AddTool(globTool(), t.glob)
	srv.AddTool(grepTool(), t.grep)
	srv.AddTool(bashTool(), t.bash)
	return srv, nil
}

// resolve maps a tool path argument to an absolute path under the root.
// Relative paths are taken relative to the root; empty means the root.
func (t *tools) resolve(p string) (string, error) {
	if p == "" {
		return t.root, nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(t.root, p)
	}
	p = filepath.Clean(p)
	if !within(t.root, p) && !within(t.real, p) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	real, err := evalExisting(p)
	if err != nil {
		return "", err
	}
	if !within(t.real, real) {
		return "", fmt.Errorf("%w: %s links to %s", ErrOutsideRoot, p, real)
	}
	return p, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// evalExisting evaluates the symlinks of the longest existing prefix of p
// and appends the missing remainder.
func evalExisting(p string) (string, error) {
	var missing []string
	for {
		real, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(append([]string{real}, missing...)...), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		missing = append([]string{filepath.Base(p)}, missing...)
		p = parent
	}
}

// rel returns p relative to the root for display.
func (t *tools) rel(p string) string {
	r, err := filepath.Rel(t.root, p)
	if err != nil {
		return p
	}
	return r
}

func domainError(format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...))
}
