package relay

import (
	"context"
	"encoding/json"
)

// Vendor identifies an LLM vendor.
type Vendor string

const (
	VendorOpenAI    Vendor = "openai"
	VendorAnthropic Vendor = "anthropic"
)

// Mode selects the wire protocol within a vendor.
type Mode string

const (
	ModeStandard  Mode = "standard"
	ModeReasoning Mode = "reasoning"
)

// Feature names an optional adapter capability.
type Feature string

const (
	FeatureTemperature     Feature = "temperature"
	FeatureReasoning       Feature = "reasoning"
	FeatureReasoningEffort Feature = "reasoning_effort"
	FeatureToolCalling     Feature = "tool_calling"
	FeatureStreaming       Feature = "streaming"
	FeatureVision          Feature = "vision"
	FeatureSystemMessage   Feature = "system_message"
)

// ConfigReport is the outcome of Adapter.ValidateConfig.
type ConfigReport struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ChatResult is the outcome of a single-shot Adapter.Chat call.
type ChatResult struct {
	Event Event
	Usage *Usage
}

// Adapter is the capability interface every vendor protocol implements.
type Adapter interface {
	// Name identifies the adapter in errors and logs.
	Name() string
	ValidateConfig(req Request) ConfigReport
	SupportsFeature(f Feature) bool
	Chat(ctx context.Context, req Request) (*ChatResult, error)
	Stream(ctx context.Context, req Request) (Stream, error)
}

// SelfExecutor is implemented by adapters whose vendor runs tool calls
// server-side. When SelfExecuting reports true the conversation loop never
// runs a local tool iteration after the adapter's response.
type SelfExecutor interface {
	SelfExecuting() bool
}

// IsSelfExecuting reports whether a is a self-executing adapter.
func IsSelfExecuting(a Adapter) bool {
	se, ok := a.(SelfExecutor)
	return ok && se.SelfExecuting()
}

// InputCodec projects events to one vendor protocol's input shape and back.
type InputCodec interface {
	Encode(events []Event) (json.RawMessage, error)
	Decode(data json.RawMessage) ([]Event, error)
}

// ValidateRequest runs Request.Validate and the feature checks shared by all
// adapters, returning a report.
func ValidateRequest(a Adapter, req Request) ConfigReport {
	var r ConfigReport
	if err := req.Validate(); err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
	if req.Temperature != nil && !a.SupportsFeature(FeatureTemperature) {
		r.Warnings = append(r.Warnings, "temperature is ignored by "+a.Name())
	}
	if req.ReasoningEffort != "" && !a.SupportsFeature(FeatureReasoningEffort) {
		r.Warnings = append(r.Warnings, "reasoning effort is ignored by "+a.Name())
	}
	if len(req.Tools) > 0 && !a.SupportsFeature(FeatureToolCalling) {
		r.Errors = append(r.Errors, a.Name()+" does not support tool calling")
	}
	switch req.ReasoningEffort {
	case "", "low", "medium", "high":
	default:
		r.Errors = append(r.Errors, "reasoning effort must be low, medium or high")
	}
	r.Valid = len(r.Errors) == 0
	return r
}
