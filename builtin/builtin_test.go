package builtin_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/fwojciec/relay/builtin"
	"github.com/fwojciec/relay/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// workspace creates a temp root with a small tree and returns a client
// connected to a builtin server on it.
func workspace(t *testing.T) (*mcp.Client, string) {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"main.go":          "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n",
		"README.md":        "# demo\nTODO: write docs\n",
		"pkg/util/util.go": "package util\n\n// TODO: more helpers\nfunc Add(a, b int) int { return a + b }\n",
		"bin/blob":         "\x00\x01TODO",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	srv, err := builtin.NewServer(root)
	require.NoError(t, err)
	c, err := mcp.ConnectInProcess(context.Background(), builtin.Name, srv)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, root
}

func call(t *testing.T, c *mcp.Client, name string, args map[string]any) (string, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	out, err := c.CallTool(context.Background(), name, raw)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(out, "content").String(), nil
}

func TestServer_ListTools(t *testing.T) {
	t.Parallel()
	c, _ := workspace(t)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)

	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"read", "glob", "grep", "bash"}, names)
}

func TestRead(t *testing.T) {
	t.Parallel()

	t.Run("numbers lines", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		out, err := call(t, c, "read", map[string]any{"file_path": "README.md"})
		require.NoError(t, err)
		assert.Equal(t, "1\t# demo\n2\tTODO: write docs\n", out)
	})

	t.Run("offset and limit", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		out, err := call(t, c, "read", map[string]any{"file_path": "main.go", "offset": 3, "limit": 2})
		require.NoError(t, err)
		assert.Equal(t, "3\tfunc main() {\n4\t\tprintln(\"hi\")\n", out)
	})

	t.Run("absolute path inside root", func(t *testing.T) {
		t.Parallel()
		c, root := workspace(t)
		out, err := call(t, c, "read", map[string]any{"file_path": filepath.Join(root, "README.md"), "limit": 1})
		require.NoError(t, err)
		assert.Equal(t, "1\t# demo\n", out)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		_, err := call(t, c, "read", map[string]any{"file_path": "nope.txt"})
		require.ErrorIs(t, err, mcp.ErrToolFailed)
		assert.Contains(t, err.Error(), "failed to open file")
	})

	t.Run("escaping the root", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		_, err := call(t, c, "read", map[string]any{"file_path": "../../etc/passwd"})
		require.ErrorIs(t, err, mcp.ErrToolFailed)
		assert.Contains(t, err.Error(), "path outside root")
	})

	t.Run("symlink escaping the root", func(t *testing.T) {
		t.Parallel()
		c, root := workspace(t)
		outside := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret\n"), 0o644))
		require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "secret.txt")))
		require.NoError(t, os.Symlink(outside, filepath.Join(root, "linked")))

		for _, p := range []string{"secret.txt", filepath.Join("linked", "secret.txt"), filepath.Join("linked", "new.txt")} {
			_, err := call(t, c, "read", map[string]any{"file_path": p})
			require.ErrorIs(t, err, mcp.ErrToolFailed, p)
			assert.Contains(t, err.Error(), "path outside root", p)
		}
	})

	t.Run("symlink inside the root", func(t *testing.T) {
		t.Parallel()
		c, root := workspace(t)
		require.NoError(t, os.Symlink(filepath.Join(root, "README.md"), filepath.Join(root, "readme-link")))
		out, err := call(t, c, "read", map[string]any{"file_path": "readme-link", "limit": 1})
		require.NoError(t, err)
		assert.Equal(t, "1\t# demo\n", out)
	})
}

func TestGrep_SkipsSymlinks(t *testing.T) {
	t.Parallel()
	c, root := workspace(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "notes.txt"), []byte("TODO: leaked\n"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "notes.txt"), filepath.Join(root, "notes.txt")))

	out, err := call(t, c, "grep", map[string]any{"pattern": "TODO"})
	require.NoError(t, err)
	assert.NotContains(t, out, "leaked")
	assert.Contains(t, out, "README.md:2:TODO: write docs")
}

func TestGlob(t *testing.T) {
	t.Parallel()

	t.Run("recursive pattern", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		out, err := call(t, c, "glob", map[string]any{"pattern": "**/*.go"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"main.go", filepath.Join("pkg", "util", "util.go")}, splitLines(out))
	})

	t.Run("no matches", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		out, err := call(t, c, "glob", map[string]any{"pattern": "*.rs"})
		require.NoError(t, err)
		assert.Equal(t, "no matches found", out)
	})

	t.Run("invalid pattern", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		_, err := call(t, c, "glob", map[string]any{"pattern": "[unclosed"})
		require.ErrorIs(t, err, mcp.ErrToolFailed)
	})

	t.Run("path must be a directory", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		_, err := call(t, c, "glob", map[string]any{"pattern": "*", "path": "main.go"})
		require.ErrorIs(t, err, mcp.ErrToolFailed)
		assert.Contains(t, err.Error(), "path must be a directory")
	})
}

func TestGrep(t *testing.T) {
	t.Parallel()

	t.Run("walks the root and skips binaries", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		out, err := call(t, c, "grep", map[string]any{"pattern": "TODO"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			"README.md:2:TODO: write docs",
			filepath.Join("pkg", "util", "util.go") + ":3:// TODO: more helpers",
		}, splitLines(out))
	})

	t.Run("glob filter", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		out, err := call(t, c, "grep", map[string]any{"pattern": "TODO", "glob": "**/*.go"})
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join("pkg", "util", "util.go") + ":3:// TODO: more helpers"}, splitLines(out))
	})

	t.Run("single file", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		out, err := call(t, c, "grep", map[string]any{"pattern": `^func`, "path": "main.go"})
		require.NoError(t, err)
		assert.Equal(t, "main.go:3:func main() {\n", out)
	})

	t.Run("invalid regex", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		_, err := call(t, c, "grep", map[string]any{"pattern": "("})
		require.ErrorIs(t, err, mcp.ErrToolFailed)
		assert.Contains(t, err.Error(), "invalid regex pattern")
	})
}

func TestBash(t *testing.T) {
	t.Parallel()

	t.Run("runs in the root", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		out, err := call(t, c, "bash", map[string]any{"command": "cat README.md | head -1"})
		require.NoError(t, err)
		assert.Equal(t, "stdout:\n# demo\nexit code: 0", out)
	})

	t.Run("separates stderr", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		out, err := call(t, c, "bash", map[string]any{"command": "echo out; echo err >&2"})
		require.NoError(t, err)
		assert.Equal(t, "stdout:\nout\nstderr:\nerr\nexit code: 0", out)
	})

	t.Run("non-zero exit fails the call", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		_, err := call(t, c, "bash", map[string]any{"command": "echo boom; exit 3"})
		require.ErrorIs(t, err, mcp.ErrToolFailed)
		assert.Contains(t, err.Error(), "exit code: 3")
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		_, err := call(t, c, "bash", map[string]any{"command": "sleep 10", "timeout": 100})
		require.ErrorIs(t, err, mcp.ErrToolFailed)
		assert.Contains(t, err.Error(), "command timed out")
	})

	t.Run("sanitizes output", func(t *testing.T) {
		t.Parallel()
		c, _ := workspace(t)
		out, err := call(t, c, "bash", map[string]any{"command": `printf '\033[31mred\033[0m\n'`})
		require.NoError(t, err)
		assert.Equal(t, "stdout:\nred\nexit code: 0", out)
	})
}

func TestSanitize(t *testing.T) {
	t.Parallel()
	tests := map[string]struct{ in, want string }{
		"plain":           {"hello world", "hello world"},
		"ansi color":      {"\x1b[31mhello\x1b[0m", "hello"},
		"tabs and lines":  {"a\tb\nc", "a\tb\nc"},
		"control chars":   {"a\x01b\x02c\x07", "abc"},
		"crlf":            {"a\r\nb\r\n", "a\nb\n"},
		"lone cr":         {"progress 50%\rprogress done", "progress done"},
		"multiple cr":     {"10%\r50%\rdone", "done"},
		"short overwrite": {"abcdef\rxy", "xycdef"},
		"empty":           {"", ""},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, builtin.Sanitize(tt.in))
		})
	}
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
