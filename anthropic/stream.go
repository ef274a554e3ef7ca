package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/sse"
	"github.com/fwojciec/relay/toolargs"
)

// handlerFunc maps one vendor event payload onto the stream state and
// returns the normalized events it produces.
type handlerFunc func(s *stream, data []byte) ([]relay.StreamEvent, error)

// handlers is keyed by the SSE event type. Types without an entry (ping and
// anything the API adds later) are ignored.
var handlers = map[string]handlerFunc{
	"message_start":       (*stream).onMessageStart,
	"content_block_start": (*stream).onBlockStart,
	"content_block_delta": (*stream).onBlockDelta,
	"content_block_stop":  (*stream).onBlockStop,
	"message_delta":       (*stream).onMessageDelta,
	"message_stop":        (*stream).onMessageStop,
	"error":               (*stream).onError,
}

// stream implements [relay.Stream] by parsing SSE events from an HTTP
// response body.
type stream struct {
	body    io.ReadCloser
	reader  *sse.Reader
	ctx     context.Context
	state   relay.StreamState
	event   relay.Event
	usage   relay.Usage
	blocks  map[int]*blockState
	args    *toolargs.Accumulator
	started bool
	done    bool
	pending []relay.StreamEvent
	err     error // terminal error, if any
}

// blockState tracks a content block being assembled. seg is the index of
// the block's segment in the event, or -1 until the segment exists.
type blockState struct {
	blockType string
	seg       int
	toolID    string
	toolName  string
	text      strings.Builder
}

// Interface compliance check.
var _ relay.Stream = (*stream)(nil)

func newStream(ctx context.Context, body io.ReadCloser) *stream {
	e := relay.NewEvent(relay.RoleAssistant)
	e.ResponseMetadata = &relay.ResponseMetadata{Provider: Name}
	return &stream{
		body:   body,
		reader: sse.NewReader(body),
		ctx:    ctx,
		state:  relay.StreamStateNew,
		event:  e,
		blocks: make(map[int]*blockState),
		args:   toolargs.New(),
	}
}

// Next returns the next normalized event. Returns io.EOF after the
// terminal done event.
func (s *stream) Next() (relay.StreamEvent, error) {
	for {
		if len(s.pending) > 0 {
			evt := s.pending[0]
			s.pending = s.pending[1:]
			return evt, nil
		}

		switch s.state {
		case relay.StreamStateComplete:
			return nil, io.EOF
		case relay.StreamStateError:
			return nil, s.err
		case relay.StreamStateClosed:
			return nil, fmt.Errorf("anthropic: %w", relay.ErrStreamClosed)
		}

		msg, err := s.reader.Next()
		if err != nil {
			s.terminate(err)
			return nil, s.err
		}
		s.state = relay.StreamStateStreaming
		s.dispatch(msg)
	}
}

// dispatch runs the handler for msg. Provider errors end the stream; any
// other handler failure is a malformed chunk, which is logged and skipped.
func (s *stream) dispatch(msg sse.Message) {
	h, ok := handlers[msg.Event]
	if !ok {
		return
	}
	evts, err := h(s, []byte(msg.Data))
	if err != nil {
		var pe *relay.ProviderError
		if errors.As(err, &pe) {
			s.terminate(err)
			return
		}
		zerolog.Ctx(s.ctx).Warn().Err(err).Str("provider", Name).Str("event", msg.Event).Msg("skipping malformed stream event")
		return
	}
	s.pending = append(s.pending, evts...)
}

// State returns the current stream state.
func (s *stream) State() relay.StreamState {
	return s.state
}

// Event returns the assembled assistant event.
func (s *stream) Event() (relay.Event, error) {
	if s.state == relay.StreamStateNew {
		return relay.Event{}, relay.ErrStreamNotReady
	}
	return s.event.Clone(), nil
}

// Close closes the underlying HTTP response body.
func (s *stream) Close() error {
	if s.state != relay.StreamStateComplete && s.state != relay.StreamStateError {
		s.state = relay.StreamStateClosed
		s.setStop(relay.StopAborted, "aborted")
	}
	return s.body.Close()
}

// terminate records a terminal error and sets the appropriate state and stop reason.
func (s *stream) terminate(err error) {
	s.state = relay.StreamStateError
	s.pending = nil
	switch {
	case err == io.EOF:
		// Normal completion via message_stop sets StreamStateComplete before
		// the body runs out; a raw EOF means the stream ended early.
		s.err = relay.NewProviderError(Name, 0, "unexpected end of stream", nil)
	case s.ctx.Err() != nil:
		s.err = fmt.Errorf("anthropic: %w", s.ctx.Err())
	default:
		s.err = err
	}
	if s.ctx.Err() != nil {
		s.setStop(relay.StopAborted, "aborted")
	} else {
		s.setStop(relay.StopError, "error")
	}
}

func (s *stream) setStop(reason relay.StopReason, raw string) {
	s.event.ResponseMetadata.StopReason = reason
	s.event.ResponseMetadata.RawStopReason = raw
}

// begin returns the start event the first time content arrives.
func (s *stream) begin() []relay.StreamEvent {
	if s.started {
		return nil
	}
	s.started = true
	return []relay.StreamEvent{relay.StreamEventStart{Event: s.event.Clone()}}
}

// apply stores seg at index and returns the matching segment event.
func (s *stream) apply(index int, seg relay.Segment, change relay.SegmentChange, delta string, part int) (relay.StreamEvent, error) {
	if err := s.event.ApplySegment(index, seg); err != nil {
		return nil, err
	}
	return relay.StreamEventSegment{
		EventID:   s.event.ID,
		Index:     index,
		Segment:   seg,
		Change:    change,
		Delta:     delta,
		PartIndex: part,
	}, nil
}

func (s *stream) onMessageStart(data []byte) ([]relay.StreamEvent, error) {
	var evt sseMessageStart
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("parse message_start: %w", err)
	}
	md := s.event.ResponseMetadata
	md.ResponseID = evt.Message.ID
	md.Model = evt.Message.Model
	s.usage.InputTokens = evt.Message.Usage.InputTokens
	s.usage.OutputTokens = evt.Message.Usage.OutputTokens
	if v := evt.Message.Usage.CacheReadInputTokens; v != nil {
		s.usage.CacheReadTokens = *v
	}
	if v := evt.Message.Usage.CacheCreationInputTokens; v != nil {
		s.usage.CacheWriteTokens = *v
	}
	return nil, nil
}

func (s *stream) onBlockStart(data []byte) ([]relay.StreamEvent, error) {
	var evt sseContentBlockStart
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("parse content_block_start: %w", err)
	}

	bs := &blockState{blockType: evt.ContentBlock.Type, seg: -1}
	s.blocks[evt.Index] = bs
	out := s.begin()

	switch evt.ContentBlock.Type {
	case "tool_use":
		bs.toolID = evt.ContentBlock.ID
		bs.toolName = evt.ContentBlock.Name
		bs.seg = len(s.event.Segments)
		seg := relay.ToolCallSegment{ID: bs.toolID, Name: bs.toolName}
		se, err := s.apply(bs.seg, seg, relay.ChangeToolCallStart, "", 0)
		if err != nil {
			return nil, err
		}
		return append(out, se), nil
	case "thinking":
		bs.seg = len(s.event.Segments)
		seg := relay.ReasoningSegment{
			ID:          fmt.Sprintf("%s_thinking_%d", s.event.ID, evt.Index),
			OutputIndex: evt.Index,
			Streaming:   true,
			Parts:       []relay.ReasoningPart{{Type: "thinking", CreatedAt: time.Now().UTC()}},
		}
		start, err := s.apply(bs.seg, seg, relay.ChangeReasoningStart, "", 0)
		if err != nil {
			return nil, err
		}
		part, err := s.apply(bs.seg, seg, relay.ChangeReasoningPart, "", 0)
		if err != nil {
			return nil, err
		}
		return append(out, start, part), nil
	default:
		// Text segments are created on their first delta so that empty
		// blocks never occupy a segment slot.
		return out, nil
	}
}

func (s *stream) onBlockDelta(data []byte) ([]relay.StreamEvent, error) {
	var evt sseContentBlockDelta
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("parse content_block_delta: %w", err)
	}

	bs := s.blocks[evt.Index]
	if bs == nil {
		return nil, fmt.Errorf("delta for unknown block index %d", evt.Index)
	}

	switch evt.Delta.Type {
	case "text_delta":
		if bs.blockType != "text" {
			return nil, fmt.Errorf("text_delta for %s block %d", bs.blockType, evt.Index)
		}
		if bs.seg < 0 {
			bs.seg = len(s.event.Segments)
		}
		bs.text.WriteString(evt.Delta.Text)
		se, err := s.apply(bs.seg, relay.TextSegment{Text: bs.text.String()}, relay.ChangeTextDelta, evt.Delta.Text, 0)
		if err != nil {
			return nil, err
		}
		return []relay.StreamEvent{se}, nil
	case "input_json_delta":
		if bs.blockType != "tool_use" {
			return nil, fmt.Errorf("input_json_delta for %s block %d", bs.blockType, evt.Index)
		}
		args, ok := s.args.Append(bs.toolID, evt.Delta.PartialJSON)
		if !ok {
			return nil, nil
		}
		seg := relay.ToolCallSegment{ID: bs.toolID, Name: bs.toolName, Args: args}
		se, err := s.apply(bs.seg, seg, relay.ChangeToolCallArgs, "", 0)
		if err != nil {
			return nil, err
		}
		return []relay.StreamEvent{se}, nil
	case "thinking_delta":
		seg, err := s.reasoningAt(bs, evt.Index)
		if err != nil {
			return nil, err
		}
		bs.text.WriteString(evt.Delta.Thinking)
		seg.Parts = []relay.ReasoningPart{withText(seg.Parts[0], bs.text.String())}
		se, err := s.apply(bs.seg, seg, relay.ChangeReasoningDelta, evt.Delta.Thinking, 0)
		if err != nil {
			return nil, err
		}
		return []relay.StreamEvent{se}, nil
	default:
		// signature_delta is vendor-internal.
		return nil, nil
	}
}

// reasoningAt returns the reasoning segment opened for a thinking block.
func (s *stream) reasoningAt(bs *blockState, index int) (relay.ReasoningSegment, error) {
	if bs.blockType != "thinking" || bs.seg < 0 || bs.seg >= len(s.event.Segments) {
		return relay.ReasoningSegment{}, fmt.Errorf("thinking delta for %s block %d", bs.blockType, index)
	}
	seg, ok := s.event.Segments[bs.seg].(relay.ReasoningSegment)
	if !ok || len(seg.Parts) == 0 {
		return relay.ReasoningSegment{}, fmt.Errorf("block %d holds no reasoning segment", index)
	}
	return seg, nil
}

func withText(p relay.ReasoningPart, text string) relay.ReasoningPart {
	p.Text = text
	return p
}

func (s *stream) onBlockStop(data []byte) ([]relay.StreamEvent, error) {
	var evt sseContentBlockStop
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("parse content_block_stop: %w", err)
	}

	bs := s.blocks[evt.Index]
	if bs == nil {
		return nil, fmt.Errorf("stop for unknown block index %d", evt.Index)
	}

	switch bs.blockType {
	case "tool_use":
		args, emit, err := s.args.Complete(bs.toolID, "")
		if err != nil {
			zerolog.Ctx(s.ctx).Warn().Err(err).Str("provider", Name).Str("tool_call_id", bs.toolID).Msg("tool arguments did not parse")
		}
		if !emit {
			return nil, nil
		}
		seg := relay.ToolCallSegment{ID: bs.toolID, Name: bs.toolName, Args: args}
		se, err := s.apply(bs.seg, seg, relay.ChangeToolCallArgs, "", 0)
		if err != nil {
			return nil, err
		}
		return []relay.StreamEvent{se}, nil
	case "thinking":
		seg, err := s.reasoningAt(bs, evt.Index)
		if err != nil {
			return nil, err
		}
		part := seg.Parts[0]
		part.IsComplete = true
		seg.Parts = []relay.ReasoningPart{part}
		partDone, err := s.apply(bs.seg, seg, relay.ChangeReasoningPartDone, "", 0)
		if err != nil {
			return nil, err
		}
		seg.Streaming = false
		seg.CombinedText = part.Text
		complete, err := s.apply(bs.seg, seg, relay.ChangeReasoningComplete, "", 0)
		if err != nil {
			return nil, err
		}
		return []relay.StreamEvent{partDone, complete}, nil
	default:
		return nil, nil
	}
}

func (s *stream) onMessageDelta(data []byte) ([]relay.StreamEvent, error) {
	var evt sseMessageDelta
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("parse message_delta: %w", err)
	}

	s.usage.OutputTokens = evt.Usage.OutputTokens
	if v := evt.Usage.InputTokens; v != nil {
		s.usage.InputTokens = *v
	}
	if v := evt.Usage.CacheReadInputTokens; v != nil {
		s.usage.CacheReadTokens = *v
	}
	if v := evt.Usage.CacheCreationInputTokens; v != nil {
		s.usage.CacheWriteTokens = *v
	}
	if evt.Delta.StopReason != nil {
		s.setStop(mapStopReason(*evt.Delta.StopReason), *evt.Delta.StopReason)
	}
	return nil, nil
}

func (s *stream) onMessageStop([]byte) ([]relay.StreamEvent, error) {
	if s.done {
		return nil, nil
	}
	s.done = true
	s.state = relay.StreamStateComplete

	usage := s.usage
	s.event.ResponseMetadata.Usage = &usage
	if s.event.ResponseMetadata.StopReason == "" {
		s.setStop(relay.StopUnknown, "")
	}
	out := s.begin()
	return append(out, relay.StreamEventDone{Event: s.event.Clone(), Usage: &usage}), nil
}

func (s *stream) onError(data []byte) ([]relay.StreamEvent, error) {
	var evt apiErrorResponse
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, relay.NewProviderError(Name, 0, "unparseable error event", err)
	}
	status := errorTypeStatus[evt.Error.Type]
	return nil, relay.NewProviderError(Name, status, evt.Error.Type+": "+evt.Error.Message, nil)
}

func mapStopReason(raw string) relay.StopReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return relay.StopEndTurn
	case "max_tokens":
		return relay.StopLength
	case "tool_use":
		return relay.StopToolUse
	default:
		return relay.StopUnknown
	}
}
