package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/sse"
	"github.com/fwojciec/relay/toolargs"
)

// protocol is the per-wire-protocol half of a stream: it decodes frames
// and owns the protocol's accumulator state.
type protocol interface {
	// handle decodes one frame and runs the matching handlers.
	handle(s *stream, msg sse.Message) ([]relay.StreamEvent, error)
	// eof runs when the body ends before a completion signal. It returns
	// the fallback completion, or nil when the stream ended early.
	eof(s *stream) []relay.StreamEvent
}

// stream implements [relay.Stream] over an SSE response body. Protocol
// specifics live in proto; stream owns the assembled event, the pending
// queue and the state machine.
type stream struct {
	name    string
	body    io.ReadCloser
	reader  *sse.Reader
	ctx     context.Context
	proto   protocol
	state   relay.StreamState
	event   relay.Event
	usage   *relay.Usage
	args    *toolargs.Accumulator
	started bool
	done    bool
	pending []relay.StreamEvent
	err     error
}

// Interface compliance check.
var _ relay.Stream = (*stream)(nil)

func newStream(ctx context.Context, name string, body io.ReadCloser, proto protocol) *stream {
	e := relay.NewEvent(relay.RoleAssistant)
	e.ResponseMetadata = &relay.ResponseMetadata{Provider: name}
	return &stream{
		name:   name,
		body:   body,
		reader: sse.NewReader(body),
		ctx:    ctx,
		proto:  proto,
		state:  relay.StreamStateNew,
		event:  e,
		args:   toolargs.New(),
	}
}

// Next returns the next normalized event, or io.EOF after the done event.
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
			return nil, fmt.Errorf("%s: %w", s.name, relay.ErrStreamClosed)
		}

		msg, err := s.reader.Next()
		if err == io.EOF && s.ctx.Err() == nil {
			if evts := s.proto.eof(s); evts != nil {
				s.pending = append(s.pending, evts...)
				continue
			}
		}
		if err != nil {
			s.terminate(err)
			return nil, s.err
		}
		s.state = relay.StreamStateStreaming

		evts, err := s.proto.handle(s, msg)
		if err != nil {
			var pe *relay.ProviderError
			if errors.As(err, &pe) {
				s.terminate(err)
				return nil, s.err
			}
			zerolog.Ctx(s.ctx).Warn().Err(err).Str("provider", s.name).Str("event", msg.Event).Msg("skipping malformed stream event")
			continue
		}
		s.pending = append(s.pending, evts...)
	}
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

// Close closes the underlying response body.
func (s *stream) Close() error {
	if s.state != relay.StreamStateComplete && s.state != relay.StreamStateError {
		s.state = relay.StreamStateClosed
		s.setStop(relay.StopAborted, "aborted")
	}
	return s.body.Close()
}

func (s *stream) terminate(err error) {
	s.state = relay.StreamStateError
	s.pending = nil
	switch {
	case s.ctx.Err() != nil:
		s.err = fmt.Errorf("%s: %w", s.name, s.ctx.Err())
	case err == io.EOF:
		s.err = relay.NewProviderError(s.name, 0, "unexpected end of stream", nil)
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

// apply stores seg at index and returns the matching segment event,
// preceded by the start event when this is the first content.
func (s *stream) apply(index int, seg relay.Segment, change relay.SegmentChange, delta string, part int) ([]relay.StreamEvent, error) {
	if err := s.event.ApplySegment(index, seg); err != nil {
		return nil, err
	}
	return append(s.begin(), relay.StreamEventSegment{
		EventID:   s.event.ID,
		Index:     index,
		Segment:   seg,
		Change:    change,
		Delta:     delta,
		PartIndex: part,
	}), nil
}

// finish emits the done event. Only the first completion signal counts;
// later ones return nil.
func (s *stream) finish(reason relay.StopReason, raw string) []relay.StreamEvent {
	if s.done {
		return nil
	}
	s.done = true
	s.state = relay.StreamStateComplete
	s.setStop(reason, raw)
	s.event.ResponseMetadata.Usage = s.usage
	return append(s.begin(), relay.StreamEventDone{Event: s.event.Clone(), Usage: s.usage})
}

// hasLocalToolCalls reports whether the event carries calls for the local
// executor.
func (s *stream) hasLocalToolCalls() bool {
	for _, tc := range s.event.ToolCalls() {
		if !tc.Remote() {
			return true
		}
	}
	return false
}
