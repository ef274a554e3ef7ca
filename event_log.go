package relay

import (
	"encoding/json"
	"fmt"
)

// EventLog is the ordered conversation history owned by one in-flight
// request. Events are appended; only the open tail event (the assistant event
// currently streaming) may still be mutated.
type EventLog struct {
	events []Event
	open   string // ID of the tail event still streaming, if any
}

// NewEventLog returns a log seeded with prior events.
func NewEventLog(events ...Event) *EventLog {
	return &EventLog{events: append([]Event(nil), events...)}
}

// Append validates e and appends it, sealing any open tail event.
func (l *EventLog) Append(e Event) error {
	if err := ValidateEvent(e); err != nil {
		return err
	}
	l.open = ""
	l.events = append(l.events, e)
	return nil
}

// Open appends e as the streaming tail event. Segments may then be applied
// with ApplySegment until Seal is called or another event is appended.
func (l *EventLog) Open(e Event) error {
	if err := l.Append(e); err != nil {
		return err
	}
	l.open = e.ID
	return nil
}

// ApplySegment applies a segment delta to the open tail event.
func (l *EventLog) ApplySegment(eventID string, index int, seg Segment) error {
	if l.open == "" || l.open != eventID {
		return fmt.Errorf("apply segment to %s: %w", eventID, ErrEventSealed)
	}
	return l.events[len(l.events)-1].ApplySegment(index, seg)
}

// Seal replaces the open tail event with its finalized form and closes it
// to further mutation.
func (l *EventLog) Seal(final Event) error {
	if l.open == "" || l.open != final.ID {
		return fmt.Errorf("seal %s: %w", final.ID, ErrEventSealed)
	}
	if err := ValidateEvent(final); err != nil {
		return err
	}
	l.events[len(l.events)-1] = final
	l.open = ""
	return nil
}

// Events returns a copy of the events in order.
func (l *EventLog) Events() []Event {
	return append([]Event(nil), l.events...)
}

// Len returns the number of events.
func (l *EventLog) Len() int { return len(l.events) }

// UnresolvedToolCalls returns every tool_call segment of an assistant event
// for which no later tool event carries a tool_result with the same ID.
// Remote calls carry their result inline and are never unresolved.
func (l *EventLog) UnresolvedToolCalls() []ToolCallSegment {
	resolvedAfter := make(map[string]int) // call ID -> index of last result
	for i, e := range l.events {
		if e.Role != RoleTool {
			continue
		}
		for _, s := range e.Segments {
			if r, ok := s.(ToolResultSegment); ok {
				resolvedAfter[r.ID] = i
			}
		}
	}
	var pending []ToolCallSegment
	for i, e := range l.events {
		if e.Role != RoleAssistant {
			continue
		}
		for _, s := range e.Segments {
			tc, ok := s.(ToolCallSegment)
			if !ok || tc.Remote() {
				continue
			}
			if at, ok := resolvedAfter[tc.ID]; ok && at > i {
				continue
			}
			pending = append(pending, tc)
		}
	}
	return pending
}

// ProviderInput projects the log into a vendor's input shape.
func (l *EventLog) ProviderInput(c InputCodec) (json.RawMessage, error) {
	return c.Encode(l.events)
}
