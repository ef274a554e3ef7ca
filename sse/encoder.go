package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	gojson "github.com/goccy/go-json"

	"github.com/fwojciec/relay"
	relayjson "github.com/fwojciec/relay/json"
)

// Frame types of the relay wire protocol.
const (
	FrameConversationCreated       = "conversationCreated"
	FrameToken                     = "token"
	FrameToolStart                 = "tool_start"
	FrameToolFinalized             = "tool_finalized"
	FrameToolResult                = "tool_result"
	FrameToolComplete              = "tool_complete"
	FrameReasoningStart            = "reasoning_start"
	FrameReasoningSummaryPartAdded = "reasoning_summary_part_added"
	FrameReasoningSummaryTextDelta = "reasoning_summary_text_delta"
	FrameReasoningSummaryPartDone  = "reasoning_summary_part_done"
	FrameReasoningComplete         = "reasoning_complete"
	FrameMCPToolStart              = "mcp_tool_start"
	FrameMCPToolArgumentsDelta     = "mcp_tool_arguments_delta"
	FrameMCPToolFinalized          = "mcp_tool_finalized"
	FrameMCPToolComplete           = "mcp_tool_complete"
	FrameProgressUpdate            = "progress_update"
	FrameProgressHide              = "progress_hide"
	FrameMessageFinal              = "message_final"
	FrameError                     = "error"
	FrameComplete                  = "complete"
)

// StageEventStart is the progress stage announcing a new assistant event.
const StageEventStart = "event_start"

// Frame is the JSON payload of one wire frame. Only the fields relevant to
// Type are populated.
type Frame struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	EventID        string          `json:"event_id,omitempty"`
	Stage          string          `json:"stage,omitempty"`
	Content        string          `json:"content,omitempty"`
	ToolID         string          `json:"tool_id,omitempty"`
	ToolName       string          `json:"tool_name,omitempty"`
	ServerLabel    string          `json:"server_label,omitempty"`
	Args           json.RawMessage `json:"args,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	ItemID         string          `json:"item_id,omitempty"`
	SummaryIndex   *int            `json:"summary_index,omitempty"`
	Delta          string          `json:"delta,omitempty"`
	Text           string          `json:"text,omitempty"`
	Event          json.RawMessage `json:"event,omitempty"`
	Error          string          `json:"error,omitempty"`
	Code           string          `json:"code,omitempty"`
}

// ErrNoticeNotFirst is returned when the conversation notice would follow
// other frames.
var ErrNoticeNotFirst = errors.New("sse: conversation notice must be the first frame")

// Encoder translates relay stream events into wire frames. It is safe for
// concurrent use. Once closed, by Close, an error frame, the terminal frame
// or a failed write, every further write is discarded.
type Encoder struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	wrote   bool
	closed  bool

	started map[string]bool // events whose start marker was sent
	hidden  map[string]bool // events whose progress indicator was hidden
}

// NewEncoder sets the event-stream headers on w and returns an Encoder
// writing to it.
func NewEncoder(w http.ResponseWriter) *Encoder {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	return &Encoder{
		w:       w,
		flusher: flusher,
		started: make(map[string]bool),
		hidden:  make(map[string]bool),
	}
}

// ConversationCreated writes the conversation notice. It must precede every
// other frame.
func (e *Encoder) ConversationCreated(conversationID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wrote {
		return ErrNoticeNotFirst
	}
	return e.write(Frame{Type: FrameConversationCreated, ConversationID: conversationID})
}

// Encode writes the frames for one stream event.
func (e *Encoder) Encode(evt relay.StreamEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev := evt.(type) {
	case relay.StreamEventStart:
		e.started[ev.Event.ID] = true
		return e.write(Frame{Type: FrameProgressUpdate, EventID: ev.Event.ID, Stage: StageEventStart})
	case relay.StreamEventSegment:
		if e.started[ev.EventID] && !e.hidden[ev.EventID] {
			e.hidden[ev.EventID] = true
			if err := e.write(Frame{Type: FrameProgressHide, EventID: ev.EventID}); err != nil {
				return err
			}
		}
		return e.encodeSegment(ev)
	case relay.StreamEventDone:
		data, err := relayjson.MarshalEvent(ev.Event)
		if err != nil {
			return fmt.Errorf("sse: %w", err)
		}
		return e.write(Frame{Type: FrameMessageFinal, EventID: ev.Event.ID, Event: data})
	case relay.StreamEventError:
		return e.fail(ev.Err)
	default:
		return fmt.Errorf("sse: unknown stream event %T", evt)
	}
}

func (e *Encoder) encodeSegment(ev relay.StreamEventSegment) error {
	switch seg := ev.Segment.(type) {
	case relay.TextSegment:
		return e.write(Frame{Type: FrameToken, EventID: ev.EventID, Content: ev.Delta})

	case relay.ToolCallSegment:
		f := Frame{EventID: ev.EventID, ToolID: seg.ID, ToolName: seg.Name, ServerLabel: seg.ServerLabel}
		switch ev.Change {
		case relay.ChangeToolCallStart:
			f.Type = pick(seg.Remote(), FrameMCPToolStart, FrameToolStart)
		case relay.ChangeToolCallArgs:
			f.Type = pick(seg.Remote(), FrameMCPToolFinalized, FrameToolFinalized)
			f.Args = seg.Args
		case relay.ChangeToolCallArgsDelta:
			f.Type = FrameMCPToolArgumentsDelta
			f.Delta = ev.Delta
		case relay.ChangeToolCallOutput:
			f.Type = FrameMCPToolComplete
			f.Output = seg.Output
			f.Error = seg.Error
		default:
			return nil
		}
		return e.write(f)

	case relay.ToolResultSegment:
		if err := e.write(Frame{
			Type:    FrameToolResult,
			EventID: ev.EventID,
			ToolID:  seg.ID,
			Output:  seg.Output,
			Error:   seg.Error,
		}); err != nil {
			return err
		}
		return e.write(Frame{Type: FrameToolComplete, EventID: ev.EventID, ToolID: seg.ID})

	case relay.ReasoningSegment:
		f := Frame{EventID: ev.EventID, ItemID: seg.ID}
		switch ev.Change {
		case relay.ChangeReasoningStart:
			f.Type = FrameReasoningStart
		case relay.ChangeReasoningPart:
			f.Type = FrameReasoningSummaryPartAdded
			f.SummaryIndex = intPtr(ev.PartIndex)
		case relay.ChangeReasoningDelta:
			f.Type = FrameReasoningSummaryTextDelta
			f.SummaryIndex = intPtr(ev.PartIndex)
			f.Delta = ev.Delta
		case relay.ChangeReasoningPartDone:
			f.Type = FrameReasoningSummaryPartDone
			f.SummaryIndex = intPtr(ev.PartIndex)
			if p := seg.Part(ev.PartIndex); p != nil {
				f.Text = p.Text
			}
		case relay.ChangeReasoningComplete:
			f.Type = FrameReasoningComplete
			f.Text = seg.Text()
		default:
			return nil
		}
		return e.write(f)
	}
	return nil
}

// Error writes a single error frame and closes the encoder.
func (e *Encoder) Error(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fail(err)
}

func (e *Encoder) fail(err error) error {
	f := Frame{Type: FrameError, Error: err.Error()}
	var pe *relay.ProviderError
	if errors.As(err, &pe) {
		f.Code = string(pe.Kind)
	}
	werr := e.write(f)
	e.closed = true
	return werr
}

// Complete writes the terminal frame and closes the encoder.
func (e *Encoder) Complete() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.write(Frame{Type: FrameComplete})
	e.closed = true
	return err
}

// Close marks the encoder closed; later writes are discarded.
func (e *Encoder) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// Closed reports whether the encoder discards writes.
func (e *Encoder) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// write must be called with mu held.
func (e *Encoder) write(f Frame) error {
	if e.closed {
		return nil
	}
	data, err := gojson.Marshal(f)
	if err != nil {
		return fmt.Errorf("sse: marshal %s frame: %w", f.Type, err)
	}
	e.wrote = true
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		e.closed = true
		return fmt.Errorf("sse: write: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

func pick(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}

func intPtr(i int) *int { return &i }
