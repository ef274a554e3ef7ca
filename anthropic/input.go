package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fwojciec/relay"
)

// Interface compliance check.
var _ relay.InputCodec = Codec{}

// Codec projects events to the Messages API "messages" array and back.
//
// System events are carried in the request's top-level system field rather
// than in messages. Reasoning segments and remote tool calls have no
// Messages API input form and are omitted.
type Codec struct{}

// Encode returns the JSON messages array for events.
func (Codec) Encode(events []relay.Event) (json.RawMessage, error) {
	msgs, err := convertEvents(events)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msgs)
}

// Decode parses a messages array into events.
func (Codec) Decode(data json.RawMessage) ([]relay.Event, error) {
	var msgs []apiMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("anthropic: decode messages: %w", err)
	}
	var events []relay.Event
	for i, m := range msgs {
		switch m.Role {
		case "user":
			if isToolResultMessage(m) {
				for _, b := range m.Content {
					events = append(events, relay.ToolResultEvent(decodeToolResult(b)))
				}
				continue
			}
			var segs []relay.Segment
			for _, b := range m.Content {
				if b.Type == "text" {
					segs = append(segs, relay.TextSegment{Text: b.Text})
				}
			}
			events = append(events, relay.NewEvent(relay.RoleUser, segs...))
		case "assistant":
			var segs []relay.Segment
			for _, b := range m.Content {
				switch b.Type {
				case "text":
					segs = append(segs, relay.TextSegment{Text: b.Text})
				case "tool_use":
					segs = append(segs, relay.ToolCallSegment{ID: b.ID, Name: b.Name, Args: b.Input})
				}
			}
			events = append(events, relay.NewEvent(relay.RoleAssistant, segs...))
		default:
			return nil, fmt.Errorf("anthropic: decode message %d: unknown role %q", i, m.Role)
		}
	}
	return events, nil
}

func convertEvents(events []relay.Event) ([]apiMessage, error) {
	var result []apiMessage
	for i, e := range events {
		switch e.Role {
		case relay.RoleSystem:
			// Carried in the top-level system field.
		case relay.RoleUser:
			result = append(result, apiMessage{Role: "user", Content: convertSegments(e.Segments)})
		case relay.RoleAssistant:
			content := convertSegments(e.Segments)
			if len(content) == 0 {
				continue
			}
			result = append(result, apiMessage{Role: "assistant", Content: content})
		case relay.RoleTool:
			for _, s := range e.Segments {
				r, ok := s.(relay.ToolResultSegment)
				if !ok {
					continue
				}
				block := apiContentBlock{
					Type:      "tool_result",
					ToolUseID: r.ID,
					Content:   []apiContentBlock{{Type: "text", Text: resultText(r)}},
					IsError:   r.Error != "",
				}
				// Merge consecutive tool results into the same user message.
				if n := len(result); n > 0 && result[n-1].Role == "user" && isToolResultMessage(result[n-1]) {
					result[n-1].Content = append(result[n-1].Content, block)
				} else {
					result = append(result, apiMessage{Role: "user", Content: []apiContentBlock{block}})
				}
			}
		default:
			return nil, fmt.Errorf("event %d: unknown role %q", i, e.Role)
		}
	}
	return result, nil
}

func isToolResultMessage(msg apiMessage) bool {
	return len(msg.Content) > 0 && msg.Content[0].Type == "tool_result"
}

func convertSegments(segments []relay.Segment) []apiContentBlock {
	result := make([]apiContentBlock, 0, len(segments))
	for _, s := range segments {
		switch seg := s.(type) {
		case relay.TextSegment:
			if seg.Text == "" {
				continue
			}
			result = append(result, apiContentBlock{Type: "text", Text: seg.Text})
		case relay.ToolCallSegment:
			if seg.Remote() {
				continue
			}
			input := seg.Args
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			result = append(result, apiContentBlock{Type: "tool_use", ID: seg.ID, Name: seg.Name, Input: input})
		}
	}
	return result
}

// resultText renders a tool result as the text the model sees. JSON string
// outputs are unquoted.
func resultText(r relay.ToolResultSegment) string {
	if len(r.Output) == 0 {
		return r.Error
	}
	if out := gjson.ParseBytes(r.Output); out.Type == gjson.String {
		return out.String()
	}
	return string(r.Output)
}

func decodeToolResult(b apiContentBlock) relay.ToolResultSegment {
	var texts []string
	for _, c := range b.Content {
		if c.Type == "text" {
			texts = append(texts, c.Text)
		}
	}
	text := strings.Join(texts, "\n")
	seg := relay.ToolResultSegment{ID: b.ToolUseID}
	if gjson.Valid(text) && strings.TrimSpace(text) != "" {
		seg.Output = json.RawMessage(text)
	} else {
		seg.Output, _ = json.Marshal(text)
	}
	if b.IsError {
		seg.Error = text
	}
	return seg
}
