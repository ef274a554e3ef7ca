package relay

import (
	"encoding/json"
	"strings"
	"time"
)

// Segment is a sealed interface representing one unit of content within an
// Event. The unexported marker method prevents external implementations.
type Segment interface {
	segment()
}

// Citation references a source backing a span of text.
type Citation struct {
	URL        string
	Title      string
	StartIndex int
	EndIndex   int
}

// TextSegment holds plain model or user text.
type TextSegment struct {
	ID        string
	Text      string
	Citations []Citation
}

func (TextSegment) segment() {}

// ToolCallSegment is a tool invocation requested by the assistant.
//
// ServerLabel is set when the vendor executed the call on a remote tool
// server; Output and Error then carry the remote result inline.
type ToolCallSegment struct {
	ID          string
	Name        string
	Args        json.RawMessage
	ServerLabel string
	Output      json.RawMessage
	Error       string
}

func (ToolCallSegment) segment() {}

// Remote reports whether the call was executed by the vendor.
func (s ToolCallSegment) Remote() bool { return s.ServerLabel != "" }

// ToolResultSegment is the outcome of a locally executed tool call.
type ToolResultSegment struct {
	ID     string
	Output json.RawMessage
	Error  string
}

func (ToolResultSegment) segment() {}

// ReasoningSegment holds a reasoning model's summarized thinking.
type ReasoningSegment struct {
	ID             string
	OutputIndex    int
	SequenceNumber int
	Parts          []ReasoningPart
	Streaming      bool
	CombinedText   string
}

func (ReasoningSegment) segment() {}

// ReasoningPart is one summary chunk addressed by SummaryIndex.
type ReasoningPart struct {
	SummaryIndex   int
	Type           string
	Text           string
	SequenceNumber int
	IsComplete     bool
	CreatedAt      time.Time
}

// Text returns CombinedText when set, otherwise the parts joined in order.
func (s ReasoningSegment) Text() string {
	if s.CombinedText != "" {
		return s.CombinedText
	}
	texts := make([]string, 0, len(s.Parts))
	for _, p := range s.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

// Empty reports whether the segment carries no textual content.
func (s ReasoningSegment) Empty() bool {
	return strings.TrimSpace(s.Text()) == ""
}

// Part returns a pointer to the part with the given summary index, or nil.
func (s *ReasoningSegment) Part(summaryIndex int) *ReasoningPart {
	for i := range s.Parts {
		if s.Parts[i].SummaryIndex == summaryIndex {
			return &s.Parts[i]
		}
	}
	return nil
}

// Interface compliance checks.
var (
	_ Segment = TextSegment{}
	_ Segment = ToolCallSegment{}
	_ Segment = ToolResultSegment{}
	_ Segment = ReasoningSegment{}
)
