package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fwojciec/relay"
)

// Interface compliance check.
var _ relay.ToolExecutor = (*Executor)(nil)

// Executor runs tool calls on the MCP server that advertised each tool.
type Executor struct {
	clients  []*Client
	tools    []relay.Tool
	byName   map[string]*Client
	maxChars int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMaxChars overrides DefaultMaxChars.
func WithMaxChars(n int) ExecutorOption {
	return func(e *Executor) { e.maxChars = n }
}

// NewExecutor lists the tools of every client. When two servers advertise
// the same tool name, the first client wins.
func NewExecutor(ctx context.Context, clients []*Client, opts ...ExecutorOption) (*Executor, error) {
	e := &Executor{
		clients:  clients,
		byName:   make(map[string]*Client),
		maxChars: DefaultMaxChars,
	}
	for _, o := range opts {
		o(e)
	}
	for _, c := range clients {
		tools, err := c.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range tools {
			if _, dup := e.byName[t.Name]; dup {
				zerolog.Ctx(ctx).Warn().Str("tool", t.Name).Str("server", c.Name()).Msg("duplicate tool name ignored")
				continue
			}
			e.byName[t.Name] = c
			e.tools = append(e.tools, t)
		}
	}
	return e, nil
}

// Tools returns the advertised tools in discovery order.
func (e *Executor) Tools() []relay.Tool {
	return append([]relay.Tool(nil), e.tools...)
}

// Execute runs calls sequentially in order and returns one result per call.
// Failures are reported per call; the error return is always nil.
func (e *Executor) Execute(ctx context.Context, calls []relay.ToolCallSegment) ([]relay.ToolResultSegment, error) {
	results := make([]relay.ToolResultSegment, 0, len(calls))
	for _, call := range calls {
		results = append(results, e.execute(ctx, call))
	}
	return results, nil
}

func (e *Executor) execute(ctx context.Context, call relay.ToolCallSegment) relay.ToolResultSegment {
	logger := zerolog.Ctx(ctx).With().Str("tool", call.Name).Str("call_id", call.ID).Logger()

	c, ok := e.byName[call.Name]
	if !ok {
		return relay.FailedResult(call.ID, fmt.Errorf("%s: %w", call.Name, relay.ErrToolNotFound))
	}
	out, err := c.CallTool(ctx, call.Name, call.Args)
	if err != nil {
		if !errors.Is(err, ErrToolFailed) {
			logger.Error().Err(err).Msg("tool call")
		}
		return relay.FailedResult(call.ID, err)
	}

	tr := Truncate(out, e.maxChars)
	if tr.Truncated {
		logger.Info().Int("total_chars", tr.TotalChars).Int("max_chars", e.maxChars).Msg("tool output truncated")
	}
	return relay.ToolResultSegment{ID: call.ID, Output: tr.Output}
}

// Close closes every client.
func (e *Executor) Close() error {
	var errs []error
	for _, c := range e.clients {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
