package relay

import (
	"errors"
	"io"
)

// StreamState indicates the current state of a Stream.
type StreamState int

const (
	StreamStateNew       StreamState = iota // Before Next() is ever called.
	StreamStateStreaming                    // Mid-stream, receiving deltas.
	StreamStateComplete                     // Next() returned io.EOF.
	StreamStateError                        // Next() returned non-EOF error.
	StreamStateClosed                       // Close() called before terminal state.
)

// Stream uses a pull-based iterator pattern. Cancellation flows through the
// context passed to Adapter.Stream(). Callers must drain the stream until
// io.EOF or an error, or call Close.
//
// Next yields StreamEventStart once at the first content signal, then
// StreamEventSegment values in arrival order, then StreamEventDone once,
// then io.EOF. Transport and protocol failures come from Next's error.
//
// Event() returns the assembled assistant Event. Behavior by stream state:
//   - StreamStateComplete: complete event, nil error.
//   - StreamStateError: partial event, nil error. StopReason is StopError
//     for transport/protocol failures, StopAborted for context cancellation.
//   - StreamStateStreaming: partial event, nil error.
//   - StreamStateNew: zero-value event, ErrStreamNotReady.
//   - StreamStateClosed: partial event with StopReason = StopAborted.
type Stream interface {
	Next() (StreamEvent, error)
	State() StreamState
	Event() (Event, error)
	Close() error
}

// StreamEvent is a sealed interface representing one normalized unit yielded
// by a Stream or forwarded by the conversation loop.
type StreamEvent interface {
	streamEvent()
}

// StreamEventStart carries the shell of the assistant Event being built.
type StreamEventStart struct {
	Event Event
}

func (StreamEventStart) streamEvent() {}

// SegmentChange names what happened to a segment.
type SegmentChange string

const (
	ChangeTextDelta         SegmentChange = "text_delta"
	ChangeToolCallStart     SegmentChange = "tool_call_start"
	ChangeToolCallArgs      SegmentChange = "tool_call_args"
	ChangeToolCallArgsDelta SegmentChange = "tool_call_args_delta"
	ChangeToolCallOutput    SegmentChange = "tool_call_output"
	ChangeToolResult        SegmentChange = "tool_result"
	ChangeReasoningStart    SegmentChange = "reasoning_start"
	ChangeReasoningPart     SegmentChange = "reasoning_part_added"
	ChangeReasoningDelta    SegmentChange = "reasoning_text_delta"
	ChangeReasoningPartDone SegmentChange = "reasoning_part_done"
	ChangeReasoningComplete SegmentChange = "reasoning_complete"
)

// StreamEventSegment is a delta applied to the current Event. Segment is the
// full segment after the change; it replaces Segments[Index], or is appended
// when Index equals the current segment count. Delta holds the raw text
// fragment for delta changes; PartIndex the reasoning summary index.
type StreamEventSegment struct {
	EventID   string
	Index     int
	Segment   Segment
	Change    SegmentChange
	Delta     string
	PartIndex int
}

func (StreamEventSegment) streamEvent() {}

// StreamEventError reports a failure that ended the turn.
type StreamEventError struct {
	Err error
}

func (StreamEventError) streamEvent() {}

// StreamEventDone is the terminal event, carrying the finalized Event.
type StreamEventDone struct {
	Event Event
	Usage *Usage
}

func (StreamEventDone) streamEvent() {}

// Interface compliance checks.
var (
	_ StreamEvent = StreamEventStart{}
	_ StreamEvent = StreamEventSegment{}
	_ StreamEvent = StreamEventError{}
	_ StreamEvent = StreamEventDone{}
)

// ApplySegment applies a segment delta to e.
func (e *Event) ApplySegment(index int, seg Segment) error {
	switch {
	case index == len(e.Segments):
		e.Segments = append(e.Segments, seg)
	case index >= 0 && index < len(e.Segments):
		e.Segments[index] = seg
	default:
		return errors.New("segment index out of range")
	}
	return nil
}

// Collect drains s and returns the finalized event and usage. It is the
// building block for single-shot Chat implementations.
func Collect(s Stream) (*ChatResult, error) {
	defer s.Close()
	var usage *Usage
	for {
		evt, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if done, ok := evt.(StreamEventDone); ok {
			usage = done.Usage
		}
	}
	e, err := s.Event()
	if err != nil {
		return nil, err
	}
	return &ChatResult{Event: e, Usage: usage}, nil
}
