// Package export renders a recorded assistant turn as a standalone Python
// script that replays the vendor request.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/anthropic"
	"github.com/fwojciec/relay/openai"
)

// Format selects the script flavor.
type Format string

const (
	FormatPythonSDK  Format = "python-sdk"
	FormatPythonHTTP Format = "python-http"
)

// ParseFormat validates a format name. Empty selects FormatPythonSDK.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatPythonSDK:
		return FormatPythonSDK, nil
	case FormatPythonHTTP:
		return FormatPythonHTTP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

var (
	// ErrUnknownFormat is returned for unsupported script formats.
	ErrUnknownFormat = errors.New("export: unknown format")

	// ErrNothingToReplay is returned when the events hold no assistant turn.
	ErrNothingToReplay = errors.New("export: no assistant turn to replay")
)

const (
	// AnthropicMaxTokens is the max_tokens of replayed Anthropic requests.
	AnthropicMaxTokens = 4096
	// OpenAIMaxOutputTokens is the max_output_tokens of replayed responses
	// requests.
	OpenAIMaxOutputTokens = 8000
)

// Options carries the request settings that are not part of the events.
type Options struct {
	// Mode selects the OpenAI protocol; zero means ModeStandard.
	Mode             relay.Mode
	SystemPrompt     string
	ReasoningEffort  string
	ReasoningSummary string
}

// Script renders the request that produced the last assistant event of
// events: every event before it becomes the replayed input.
func Script(vendor relay.Vendor, format Format, model string, events []relay.Event, opts Options) (string, error) {
	turn, input, ok := lastTurn(events)
	if !ok {
		return "", ErrNothingToReplay
	}
	system := opts.SystemPrompt
	var conversation []relay.Event
	for _, e := range input {
		if e.Role == relay.RoleSystem {
			if system == "" {
				system = e.Text()
			}
			continue
		}
		conversation = append(conversation, e)
	}

	var (
		payload *orderedmap.OrderedMap[string, any]
		tmpl    string
		err     error
	)
	switch vendor {
	case relay.VendorAnthropic:
		payload, err = anthropicPayload(model, system, conversation)
		tmpl = pick(format, anthropicSDK, anthropicHTTP)
	case relay.VendorOpenAI:
		if opts.Mode == relay.ModeReasoning {
			payload, err = responsesPayload(model, system, conversation, opts)
			tmpl = pick(format, responsesSDK, responsesHTTP)
		} else {
			payload, err = chatPayload(model, system, conversation)
			tmpl = pick(format, chatSDK, chatHTTP)
		}
	default:
		return "", fmt.Errorf("export: unknown vendor %q", vendor)
	}
	if err != nil {
		return "", err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("export: marshal payload: %w", err)
	}
	return render(tmpl, scriptData{
		EventID: turn.ID,
		Payload: pythonLiteral(gjson.ParseBytes(raw), 1),
	})
}

// lastTurn splits events at the last assistant event.
func lastTurn(events []relay.Event) (relay.Event, []relay.Event, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Role == relay.RoleAssistant {
			return events[i], events[:i], true
		}
	}
	return relay.Event{}, nil, false
}

func anthropicPayload(model, system string, events []relay.Event) (*orderedmap.OrderedMap[string, any], error) {
	messages, err := anthropic.Codec{}.Encode(events)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	p := orderedmap.New[string, any]()
	p.Set("model", model)
	p.Set("messages", orEmptyArray(messages))
	if system != "" {
		p.Set("system", system)
	}
	p.Set("max_tokens", AnthropicMaxTokens)
	return p, nil
}

func chatPayload(model, system string, events []relay.Event) (*orderedmap.OrderedMap[string, any], error) {
	if system != "" {
		events = append([]relay.Event{{Role: relay.RoleSystem, Segments: []relay.Segment{relay.TextSegment{Text: system}}}}, events...)
	}
	messages, err := openai.ChatCodec{}.Encode(events)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	p := orderedmap.New[string, any]()
	p.Set("model", model)
	p.Set("messages", orEmptyArray(messages))
	return p, nil
}

func responsesPayload(model, system string, events []relay.Event, opts Options) (*orderedmap.OrderedMap[string, any], error) {
	if system != "" {
		events = append([]relay.Event{{Role: relay.RoleSystem, Segments: []relay.Segment{relay.TextSegment{Text: system}}}}, events...)
	}
	input, err := openai.ResponsesCodec{}.Encode(events)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	p := orderedmap.New[string, any]()
	p.Set("model", model)
	p.Set("input", expandMessages(input))
	p.Set("max_output_tokens", OpenAIMaxOutputTokens)
	if opts.ReasoningEffort != "" || opts.ReasoningSummary != "" {
		r := orderedmap.New[string, any]()
		if opts.ReasoningEffort != "" {
			r.Set("effort", opts.ReasoningEffort)
		}
		if opts.ReasoningSummary != "" {
			r.Set("summary", opts.ReasoningSummary)
		}
		p.Set("reasoning", r)
	}
	return p, nil
}

// expandMessages rewrites shorthand message items into the explicit item
// form, giving each an id of msg_<index> unless it has one. Other items are
// kept as encoded.
func expandMessages(input json.RawMessage) []any {
	items := []any{}
	gjson.ParseBytes(input).ForEach(func(_, item gjson.Result) bool {
		role := item.Get("role")
		typ := item.Get("type").String()
		if !role.Exists() || (typ != "" && typ != "message") {
			items = append(items, json.RawMessage(item.Raw))
			return true
		}

		id := item.Get("id").String()
		if id == "" {
			id = fmt.Sprintf("msg_%d", len(items))
		}
		partType := "input_text"
		if role.String() == "assistant" {
			partType = "output_text"
		}
		var content []any
		if c := item.Get("content"); c.IsArray() {
			c.ForEach(func(_, part gjson.Result) bool {
				content = append(content, json.RawMessage(part.Raw))
				return true
			})
		} else {
			part := orderedmap.New[string, any]()
			part.Set("type", partType)
			part.Set("text", c.String())
			content = append(content, part)
		}

		msg := orderedmap.New[string, any]()
		msg.Set("id", id)
		msg.Set("type", "message")
		msg.Set("role", role.String())
		msg.Set("content", content)
		items = append(items, msg)
		return true
	})
	return items
}

func orEmptyArray(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("[]")
	}
	return raw
}

// pythonLiteral renders a JSON value as a Python literal, indented by four
// spaces per level starting at depth.
func pythonLiteral(v gjson.Result, depth int) string {
	var b strings.Builder
	writeLiteral(&b, v, depth)
	return b.String()
}

func writeLiteral(b *strings.Builder, v gjson.Result, depth int) {
	switch {
	case v.IsObject():
		writeContainer(b, v, depth, "{", "}", true)
	case v.IsArray():
		writeContainer(b, v, depth, "[", "]", false)
	case v.Type == gjson.True:
		b.WriteString("True")
	case v.Type == gjson.False:
		b.WriteString("False")
	case v.Type == gjson.Null:
		b.WriteString("None")
	default:
		// JSON strings and numbers are valid Python literals.
		b.WriteString(v.Raw)
	}
}

func writeContainer(b *strings.Builder, v gjson.Result, depth int, open, close string, object bool) {
	b.WriteString(open)
	first := true
	v.ForEach(func(key, value gjson.Result) bool {
		if !first {
			b.WriteString(",")
		}
		first = false
		b.WriteString("\n")
		b.WriteString(strings.Repeat(indent, depth+1))
		if object {
			b.WriteString(key.Raw)
			b.WriteString(": ")
		}
		writeLiteral(b, value, depth+1)
		return true
	})
	if !first {
		b.WriteString("\n")
		b.WriteString(strings.Repeat(indent, depth))
	}
	b.WriteString(close)
}

const indent = "    "
