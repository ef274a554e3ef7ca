package mock

import (
	"io"

	"github.com/fwojciec/relay"
)

// Interface compliance check.
var _ relay.Stream = (*Stream)(nil)

// Stream is a test double for relay.Stream.
// Set the function fields for the methods you need. NextFn and EventFn
// panic when nil to catch missing setup. CloseFn and StateFn are nil-safe
// (no-op and zero value) because test code commonly calls defer stream.Close()
// and these methods rarely need custom behavior.
type Stream struct {
	NextFn  func() (relay.StreamEvent, error)
	StateFn func() relay.StreamState
	EventFn func() (relay.Event, error)
	CloseFn func() error
}

// Next delegates to NextFn.
func (s *Stream) Next() (relay.StreamEvent, error) {
	return s.NextFn()
}

// State delegates to StateFn. Returns StreamStateNew when StateFn is nil.
func (s *Stream) State() relay.StreamState {
	if s.StateFn == nil {
		return relay.StreamStateNew
	}
	return s.StateFn()
}

// Event delegates to EventFn.
func (s *Stream) Event() (relay.Event, error) {
	return s.EventFn()
}

// Close delegates to CloseFn. Returns nil when CloseFn is not set.
func (s *Stream) Close() error {
	if s.CloseFn == nil {
		return nil
	}
	return s.CloseFn()
}

// Replay returns a Stream yielding events in order, then err, or io.EOF
// when err is nil. Event returns the event of the last StreamEventDone, or
// the event of the last StreamEventStart with segments applied.
func Replay(err error, events ...relay.StreamEvent) *Stream {
	var (
		i     int
		state = relay.StreamStateNew
		cur   relay.Event
	)
	s := &Stream{}
	s.NextFn = func() (relay.StreamEvent, error) {
		if i >= len(events) {
			if err != nil {
				state = relay.StreamStateError
				return nil, err
			}
			state = relay.StreamStateComplete
			return nil, io.EOF
		}
		evt := events[i]
		i++
		state = relay.StreamStateStreaming
		switch e := evt.(type) {
		case relay.StreamEventStart:
			cur = e.Event.Clone()
		case relay.StreamEventSegment:
			_ = cur.ApplySegment(e.Index, e.Segment)
		case relay.StreamEventDone:
			cur = e.Event.Clone()
		}
		return evt, nil
	}
	s.StateFn = func() relay.StreamState { return state }
	s.EventFn = func() (relay.Event, error) {
		if state == relay.StreamStateNew {
			return relay.Event{}, relay.ErrStreamNotReady
		}
		return cur.Clone(), nil
	}
	return s
}
