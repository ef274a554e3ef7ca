package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	osexec "os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultTimeout bounds a bash call that sets no timeout of its own.
const DefaultTimeout = 120 * time.Second

func bashTool() mcp.Tool {
	return mcp.NewTool("bash",
		mcp.WithDescription("Execute a bash command in the workspace root and return its output and exit code."),
		mcp.WithString("command", mcp.Required(), mcp.Description("The bash command to execute")),
		mcp.WithNumber("timeout", mcp.Description("Timeout in milliseconds (default: 120000)")),
	)
}

// bash runs a command in its own process group so a timeout kills every
// child. A non-zero exit is reported as a failed call.
func (t *tools) bash(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil || command == "" {
		return domainError("command is required"), nil
	}
	timeout := DefaultTimeout
	if ms := req.GetInt("timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := osexec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = t.root
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		var exitErr *osexec.ExitError
		if !errors.As(runErr, &exitErr) || exitErr.ExitCode() < 0 {
			if ctx.Err() != nil {
				return domainError("command timed out: %s\n%s", ctx.Err(), format(-1, &stdout, &stderr)), nil
			}
			return domainError("failed to run command: %s", runErr), nil
		}
		exitCode = exitErr.ExitCode()
	}

	out := format(exitCode, &stdout, &stderr)
	if exitCode != 0 {
		return mcp.NewToolResultError(out), nil
	}
	return mcp.NewToolResultText(out), nil
}

func format(exitCode int, stdout, stderr *bytes.Buffer) string {
	var b strings.Builder
	if s := Sanitize(stdout.String()); s != "" {
		fmt.Fprintf(&b, "stdout:\n%s\n", strings.TrimRight(s, "\n"))
	}
	if s := Sanitize(stderr.String()); s != "" {
		fmt.Fprintf(&b, "stderr:\n%s\n", strings.TrimRight(s, "\n"))
	}
	if exitCode >= 0 {
		fmt.Fprintf(&b, "exit code: %d", exitCode)
	}
	return b.String()
}
