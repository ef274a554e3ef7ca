package relay

import (
	"time"

	"github.com/google/uuid"
)

// Event is one turn-level message in a conversation: a role plus an ordered
// sequence of segments. Segment order is arrival order and is significant.
type Event struct {
	ID               string
	Role             Role
	Segments         []Segment
	TS               time.Time
	ResponseMetadata *ResponseMetadata

	// OrderKey is the fractional sort key assigned at persistence time.
	// Empty until the event has been committed.
	OrderKey string
}

// ResponseMetadata describes the vendor response that produced an
// assistant Event.
type ResponseMetadata struct {
	Provider      string
	Model         string
	ResponseID    string
	StopReason    StopReason
	RawStopReason string
	Usage         *Usage
}

// NewEvent returns an Event with a fresh time-ordered ID and the current time.
func NewEvent(role Role, segments ...Segment) Event {
	return Event{
		ID:       NewID(),
		Role:     role,
		Segments: segments,
		TS:       time.Now().UTC(),
	}
}

// NewID returns a new UUIDv7 string.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// UserText returns a user Event holding a single text segment.
func UserText(text string) Event {
	return NewEvent(RoleUser, TextSegment{Text: text})
}

// ToolResultEvent returns a tool Event holding the given result.
func ToolResultEvent(r ToolResultSegment) Event {
	return NewEvent(RoleTool, r)
}

// ToolCalls returns the tool_call segments of e in order.
func (e Event) ToolCalls() []ToolCallSegment {
	var calls []ToolCallSegment
	for _, s := range e.Segments {
		if tc, ok := s.(ToolCallSegment); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// Text concatenates the text segments of e.
func (e Event) Text() string {
	var out string
	for _, s := range e.Segments {
		if t, ok := s.(TextSegment); ok {
			out += t.Text
		}
	}
	return out
}

// Clone returns a copy of e whose segment slice can be mutated independently.
func (e Event) Clone() Event {
	c := e
	c.Segments = append([]Segment(nil), e.Segments...)
	if e.ResponseMetadata != nil {
		md := *e.ResponseMetadata
		c.ResponseMetadata = &md
	}
	return c
}
