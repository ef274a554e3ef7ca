package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/tidwall/gjson"

	"github.com/fwojciec/relay"
)

// ChatCodec projects events to the chat-completions messages array and back.
// Reasoning segments and remote tool calls have no chat form and are dropped
// on encode.
type ChatCodec struct{}

// Interface compliance check.
var _ relay.InputCodec = ChatCodec{}

// Encode returns the messages array for events.
func (ChatCodec) Encode(events []relay.Event) (json.RawMessage, error) {
	msgs, err := chatMessages(events)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msgs)
}

// Decode rebuilds events from a messages array.
func (ChatCodec) Decode(data json.RawMessage) ([]relay.Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("openai: decode chat input: %w", relay.ErrValidation)
	}
	var (
		events []relay.Event
		err    error
	)
	gjson.ParseBytes(data).ForEach(func(_, m gjson.Result) bool {
		var e relay.Event
		e, err = decodeChatMessage(m)
		if err != nil {
			return false
		}
		events = append(events, e)
		return true
	})
	return events, err
}

func chatMessages(events []relay.Event) ([]oai.ChatCompletionMessageParamUnion, error) {
	var msgs []oai.ChatCompletionMessageParamUnion
	for _, e := range events {
		switch e.Role {
		case relay.RoleSystem:
			msgs = append(msgs, oai.SystemMessage(e.Text()))
		case relay.RoleUser:
			msgs = append(msgs, oai.UserMessage(e.Text()))
		case relay.RoleAssistant:
			if m, ok := chatAssistantMessage(e); ok {
				msgs = append(msgs, m)
			}
		case relay.RoleTool:
			for _, s := range e.Segments {
				if r, ok := s.(relay.ToolResultSegment); ok {
					msgs = append(msgs, oai.ToolMessage(resultText(r.Output), r.ID))
				}
			}
		default:
			return nil, fmt.Errorf("openai: unknown role %q", e.Role)
		}
	}
	return msgs, nil
}

func chatAssistantMessage(e relay.Event) (oai.ChatCompletionMessageParamUnion, bool) {
	var m oai.ChatCompletionAssistantMessageParam
	if text := e.Text(); text != "" {
		m.Content.OfString = oai.String(text)
	}
	for _, tc := range e.ToolCalls() {
		if tc.Remote() {
			continue
		}
		m.ToolCalls = append(m.ToolCalls, oai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: oai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: argsText(tc.Args),
			},
		})
	}
	if !m.Content.OfString.Valid() && len(m.ToolCalls) == 0 {
		return oai.ChatCompletionMessageParamUnion{}, false
	}
	return oai.ChatCompletionMessageParamUnion{OfAssistant: &m}, true
}

func decodeChatMessage(m gjson.Result) (relay.Event, error) {
	role := m.Get("role").String()
	switch role {
	case "system", "developer":
		return relay.NewEvent(relay.RoleSystem, relay.TextSegment{Text: contentText(m.Get("content"))}), nil
	case "user":
		return relay.UserText(contentText(m.Get("content"))), nil
	case "assistant":
		e := relay.NewEvent(relay.RoleAssistant)
		if text := contentText(m.Get("content")); text != "" {
			e.Segments = append(e.Segments, relay.TextSegment{Text: text})
		}
		m.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
			e.Segments = append(e.Segments, relay.ToolCallSegment{
				ID:   tc.Get("id").String(),
				Name: tc.Get("function.name").String(),
				Args: objectOrEmpty(tc.Get("function.arguments").String()),
			})
			return true
		})
		return e, nil
	case "tool":
		return relay.ToolResultEvent(relay.ToolResultSegment{
			ID:     m.Get("tool_call_id").String(),
			Output: outputJSON(contentText(m.Get("content"))),
		}), nil
	default:
		return relay.Event{}, fmt.Errorf("openai: unknown role %q: %w", role, relay.ErrValidation)
	}
}

// contentText reads a content field that is either a string or an array of
// text parts.
func contentText(c gjson.Result) string {
	if !c.IsArray() {
		return c.String()
	}
	var b strings.Builder
	c.ForEach(func(_, part gjson.Result) bool {
		b.WriteString(part.Get("text").String())
		return true
	})
	return b.String()
}

// resultText renders a tool output for the wire: JSON strings are unquoted,
// anything else is sent as its JSON text.
func resultText(output json.RawMessage) string {
	if len(output) == 0 {
		return ""
	}
	r := gjson.ParseBytes(output)
	if r.Type == gjson.String {
		return r.String()
	}
	return string(output)
}

// outputJSON is the inverse of resultText.
func outputJSON(text string) json.RawMessage {
	if gjson.Valid(text) {
		return json.RawMessage(text)
	}
	b, _ := json.Marshal(text)
	return b
}

func argsText(args json.RawMessage) string {
	if len(args) == 0 {
		return "{}"
	}
	return string(args)
}

func objectOrEmpty(raw string) json.RawMessage {
	if gjson.Valid(raw) && gjson.Parse(raw).IsObject() {
		return json.RawMessage(raw)
	}
	return json.RawMessage(`{}`)
}
