package relay

import (
	"context"
	"encoding/json"
)

// Tool is the schema sent to the model describing a tool's capabilities.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// RemoteToolServer is a tool server the vendor calls on its own during a
// response. Adapters that support it never hand those calls back to the
// local executor.
type RemoteToolServer struct {
	Label   string
	URL     string
	Headers map[string]string
	Allowed []string
}

// ToolExecutor runs a batch of tool calls. Implementations execute the calls
// sequentially in the given order and return exactly one result per call, in
// the same order. A failure of a single call is reported in that call's
// ToolResultSegment.Error; the returned error is reserved for failures of the
// executor itself.
type ToolExecutor interface {
	Execute(ctx context.Context, calls []ToolCallSegment) ([]ToolResultSegment, error)
}

// ErrorOutput renders msg as a tool output object.
func ErrorOutput(msg string) json.RawMessage {
	b, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{msg})
	return b
}

// FailedResult builds the result recorded when a tool call fails.
func FailedResult(id string, err error) ToolResultSegment {
	return ToolResultSegment{ID: id, Output: ErrorOutput(err.Error()), Error: err.Error()}
}
