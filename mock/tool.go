package mock

import (
	"context"

	"github.com/fwojciec/relay"
)

// Interface compliance check.
var _ relay.ToolExecutor = (*ToolExecutor)(nil)

// ToolExecutor is a test double for relay.ToolExecutor.
// Set ExecuteFn before calling Execute.
type ToolExecutor struct {
	ExecuteFn func(ctx context.Context, calls []relay.ToolCallSegment) ([]relay.ToolResultSegment, error)
}

// Execute delegates to ExecuteFn.
func (e *ToolExecutor) Execute(ctx context.Context, calls []relay.ToolCallSegment) ([]relay.ToolResultSegment, error) {
	return e.ExecuteFn(ctx, calls)
}
