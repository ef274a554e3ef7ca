package openai

import (
	"encoding/json"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"
	"github.com/tidwall/gjson"

	"github.com/fwojciec/relay"
)

// ResponsesCodec projects events to the responses input item list and back.
//
// An empty reasoning segment is kept only when the next segment of the same
// event is a tool call; the vendor requires a reasoning item before the call
// it produced but rejects summary-less reasoning anywhere else.
type ResponsesCodec struct{}

// Interface compliance check.
var _ relay.InputCodec = ResponsesCodec{}

// Encode returns the input item list for events.
func (ResponsesCodec) Encode(events []relay.Event) (json.RawMessage, error) {
	items, err := responsesInput(events)
	if err != nil {
		return nil, err
	}
	return json.Marshal(items)
}

// Decode rebuilds events from an input item list. Consecutive assistant
// items are merged into one assistant event.
func (ResponsesCodec) Decode(data json.RawMessage) ([]relay.Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("openai: decode responses input: %w", relay.ErrValidation)
	}
	var (
		events []relay.Event
		err    error
	)
	// appendAssistant adds seg to the trailing assistant event, opening one
	// when the previous event has another role.
	appendAssistant := func(seg relay.Segment) {
		if n := len(events); n > 0 && events[n-1].Role == relay.RoleAssistant {
			events[n-1].Segments = append(events[n-1].Segments, seg)
			return
		}
		events = append(events, relay.NewEvent(relay.RoleAssistant, seg))
	}
	gjson.ParseBytes(data).ForEach(func(_, item gjson.Result) bool {
		typ := item.Get("type").String()
		if typ == "" && item.Get("role").Exists() {
			typ = "message"
		}
		switch typ {
		case "message":
			text := contentText(item.Get("content"))
			switch role := item.Get("role").String(); role {
			case "user":
				events = append(events, relay.UserText(text))
			case "system", "developer":
				events = append(events, relay.NewEvent(relay.RoleSystem, relay.TextSegment{Text: text}))
			case "assistant":
				appendAssistant(relay.TextSegment{ID: item.Get("id").String(), Text: text})
			default:
				err = fmt.Errorf("openai: unknown role %q: %w", role, relay.ErrValidation)
			}
		case "function_call":
			appendAssistant(relay.ToolCallSegment{
				ID:   item.Get("call_id").String(),
				Name: item.Get("name").String(),
				Args: objectOrEmpty(item.Get("arguments").String()),
			})
		case "mcp_call":
			seg := relay.ToolCallSegment{
				ID:          item.Get("id").String(),
				Name:        item.Get("name").String(),
				Args:        objectOrEmpty(item.Get("arguments").String()),
				ServerLabel: item.Get("server_label").String(),
				Error:       item.Get("error").String(),
			}
			if out := item.Get("output"); out.Exists() && out.Type != gjson.Null {
				seg.Output = outputJSON(out.String())
			}
			appendAssistant(seg)
		case "reasoning":
			seg := relay.ReasoningSegment{ID: item.Get("id").String()}
			item.Get("summary").ForEach(func(i, s gjson.Result) bool {
				seg.Parts = append(seg.Parts, relay.ReasoningPart{
					SummaryIndex: int(i.Int()),
					Type:         "summary_text",
					Text:         s.Get("text").String(),
					IsComplete:   true,
				})
				return true
			})
			appendAssistant(seg)
		case "function_call_output":
			events = append(events, relay.ToolResultEvent(relay.ToolResultSegment{
				ID:     item.Get("call_id").String(),
				Output: outputJSON(item.Get("output").String()),
			}))
		default:
			err = fmt.Errorf("openai: unknown input item type %q: %w", typ, relay.ErrValidation)
		}
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func responsesInput(events []relay.Event) (responses.ResponseInputParam, error) {
	var items responses.ResponseInputParam
	for _, e := range events {
		switch e.Role {
		case relay.RoleSystem:
			items = append(items, easyMessage(responses.EasyInputMessageRoleSystem, e.Text()))
		case relay.RoleUser:
			items = append(items, easyMessage(responses.EasyInputMessageRoleUser, e.Text()))
		case relay.RoleAssistant:
			items = append(items, assistantItems(e.Segments)...)
		case relay.RoleTool:
			for _, s := range e.Segments {
				if r, ok := s.(relay.ToolResultSegment); ok {
					items = append(items, responses.ResponseInputItemUnionParam{
						OfFunctionCallOutput: &responses.ResponseInputItemFunctionCallOutputParam{
							CallID: r.ID,
							Output: resultText(r.Output),
						},
					})
				}
			}
		default:
			return nil, fmt.Errorf("openai: unknown role %q", e.Role)
		}
	}
	return items, nil
}

func easyMessage(role responses.EasyInputMessageRole, text string) responses.ResponseInputItemUnionParam {
	return responses.ResponseInputItemUnionParam{
		OfMessage: &responses.EasyInputMessageParam{
			Role:    role,
			Content: responses.EasyInputMessageContentUnionParam{OfString: oai.String(text)},
		},
	}
}

func assistantItems(segs []relay.Segment) []responses.ResponseInputItemUnionParam {
	var items []responses.ResponseInputItemUnionParam
	for i, s := range segs {
		switch seg := s.(type) {
		case relay.TextSegment:
			if seg.Text != "" {
				items = append(items, easyMessage(responses.EasyInputMessageRoleAssistant, seg.Text))
			}
		case relay.ReasoningSegment:
			if !keepReasoning(segs, i) {
				continue
			}
			summary := []responses.ResponseReasoningItemSummaryParam{}
			for _, p := range seg.Parts {
				if p.Text != "" {
					summary = append(summary, responses.ResponseReasoningItemSummaryParam{Text: p.Text})
				}
			}
			if len(summary) == 0 && seg.CombinedText != "" {
				summary = append(summary, responses.ResponseReasoningItemSummaryParam{Text: seg.CombinedText})
			}
			items = append(items, responses.ResponseInputItemUnionParam{
				OfReasoning: &responses.ResponseReasoningItemParam{ID: seg.ID, Summary: summary},
			})
		case relay.ToolCallSegment:
			if seg.Remote() {
				call := &responses.ResponseInputItemMcpCallParam{
					ID:          seg.ID,
					Name:        seg.Name,
					Arguments:   argsText(seg.Args),
					ServerLabel: seg.ServerLabel,
				}
				if len(seg.Output) > 0 {
					call.Output = oai.String(resultText(seg.Output))
				}
				if seg.Error != "" {
					call.Error = oai.String(seg.Error)
				}
				items = append(items, responses.ResponseInputItemUnionParam{OfMcpCall: call})
				continue
			}
			items = append(items, responses.ResponseInputItemUnionParam{
				OfFunctionCall: &responses.ResponseFunctionToolCallParam{
					CallID:    seg.ID,
					Name:      seg.Name,
					Arguments: argsText(seg.Args),
				},
			})
		}
	}
	return items
}

// keepReasoning reports whether the reasoning segment at i is sent back.
// Reasoning without an ID cannot be referenced and is never sent.
func keepReasoning(segs []relay.Segment, i int) bool {
	seg := segs[i].(relay.ReasoningSegment)
	if seg.ID == "" {
		return false
	}
	if !seg.Empty() {
		return true
	}
	if i+1 >= len(segs) {
		return false
	}
	_, next := segs[i+1].(relay.ToolCallSegment)
	return next
}
