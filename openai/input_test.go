package openai_test

import (
	"encoding/json"
	"testing"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestResponsesCodec_ReasoningAdjacency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		segs  []relay.Segment
		types []string
	}{
		{
			name: "empty reasoning before tool call is kept",
			segs: []relay.Segment{
				relay.ReasoningSegment{ID: "rs_1"},
				relay.ToolCallSegment{ID: "call_1", Name: "search", Args: json.RawMessage(`{}`)},
			},
			types: []string{"reasoning", "function_call"},
		},
		{
			name: "empty reasoning before text is dropped",
			segs: []relay.Segment{
				relay.ReasoningSegment{ID: "rs_1"},
				relay.TextSegment{Text: "Hi"},
			},
			types: []string{""},
		},
		{
			name:  "trailing empty reasoning is dropped",
			segs:  []relay.Segment{relay.TextSegment{Text: "Hi"}, relay.ReasoningSegment{ID: "rs_1"}},
			types: []string{""},
		},
		{
			name: "reasoning with text is kept",
			segs: []relay.Segment{
				relay.ReasoningSegment{ID: "rs_1", Parts: []relay.ReasoningPart{{Text: "Think."}}},
				relay.TextSegment{Text: "Hi"},
			},
			types: []string{"reasoning", ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data, err := openai.ResponsesCodec{}.Encode([]relay.Event{relay.NewEvent(relay.RoleAssistant, tt.segs...)})
			require.NoError(t, err)

			items := gjson.ParseBytes(data).Array()
			types := make([]string, len(items))
			for i, item := range items {
				types[i] = item.Get("type").String()
			}
			assert.Equal(t, tt.types, types)
		})
	}
}

func TestResponsesCodec_EmptyReasoningHasEmptySummary(t *testing.T) {
	t.Parallel()
	data, err := openai.ResponsesCodec{}.Encode([]relay.Event{relay.NewEvent(relay.RoleAssistant,
		relay.ReasoningSegment{ID: "rs_1"},
		relay.ToolCallSegment{ID: "call_1", Name: "search"},
	)})
	require.NoError(t, err)

	item := gjson.GetBytes(data, "0")
	assert.Equal(t, "rs_1", item.Get("id").String())
	assert.True(t, item.Get("summary").IsArray())
	assert.Empty(t, item.Get("summary").Array())
	assert.Equal(t, "{}", gjson.GetBytes(data, "1.arguments").String())
}

func TestResponsesCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	events := []relay.Event{
		relay.NewEvent(relay.RoleSystem, relay.TextSegment{Text: "Be brief."}),
		relay.UserText("Search"),
		relay.NewEvent(relay.RoleAssistant,
			relay.ReasoningSegment{ID: "rs_1", Parts: []relay.ReasoningPart{{Text: "Need data."}}},
			relay.ToolCallSegment{ID: "call_1", Name: "search", Args: json.RawMessage(`{"q":"x"}`)},
			relay.ToolCallSegment{ID: "mcp_1", Name: "lookup", Args: json.RawMessage(`{}`), ServerLabel: "docs", Output: json.RawMessage(`"found"`)},
		),
		relay.ToolResultEvent(relay.ToolResultSegment{ID: "call_1", Output: json.RawMessage(`{"content":"y"}`)}),
		relay.NewEvent(relay.RoleAssistant, relay.TextSegment{Text: "Done."}),
	}

	codec := openai.ResponsesCodec{}
	data, err := codec.Encode(events)
	require.NoError(t, err)

	got, err := codec.Decode(data)
	require.NoError(t, err)
	require.Len(t, got, len(events))
	for i := range events {
		assert.Equal(t, events[i].Role, got[i].Role)
		assert.Equal(t, events[i].Text(), got[i].Text())
	}

	require.Len(t, got[2].Segments, 3)
	reasoning := got[2].Segments[0].(relay.ReasoningSegment)
	assert.Equal(t, "Need data.", reasoning.Text())
	calls := got[2].ToolCalls()
	assert.JSONEq(t, `{"q":"x"}`, string(calls[0].Args))
	assert.Equal(t, "docs", calls[1].ServerLabel)
	assert.JSONEq(t, `"found"`, string(calls[1].Output))

	result := got[3].Segments[0].(relay.ToolResultSegment)
	assert.Equal(t, "call_1", result.ID)
	assert.JSONEq(t, `{"content":"y"}`, string(result.Output))
}

func TestResponsesCodec_DecodeRejectsUnknownItem(t *testing.T) {
	t.Parallel()
	_, err := openai.ResponsesCodec{}.Decode(json.RawMessage(`[{"type":"computer_call","id":"x"}]`))
	assert.ErrorIs(t, err, relay.ErrValidation)
}

func TestChatCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	events := []relay.Event{
		relay.UserText("Search"),
		relay.NewEvent(relay.RoleAssistant,
			relay.ReasoningSegment{ID: "rs_1", Parts: []relay.ReasoningPart{{Text: "dropped"}}},
			relay.TextSegment{Text: "Looking."},
			relay.ToolCallSegment{ID: "call_1", Name: "search", Args: json.RawMessage(`{"q":"x"}`)},
		),
		relay.ToolResultEvent(relay.ToolResultSegment{ID: "call_1", Output: json.RawMessage(`"plain"`)}),
	}

	codec := openai.ChatCodec{}
	data, err := codec.Encode(events)
	require.NoError(t, err)
	assert.Equal(t, "plain", gjson.GetBytes(data, "2.content").String())

	got, err := codec.Decode(data)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Looking.", got[1].Text())
	require.Len(t, got[1].Segments, 2, "reasoning has no chat form")
	assert.JSONEq(t, `{"q":"x"}`, string(got[1].ToolCalls()[0].Args))
	assert.JSONEq(t, `"plain"`, string(got[2].Segments[0].(relay.ToolResultSegment).Output))
}

func TestChatCodec_DecodeRejectsUnknownRole(t *testing.T) {
	t.Parallel()
	_, err := openai.ChatCodec{}.Decode(json.RawMessage(`[{"role":"robot","content":"x"}]`))
	assert.ErrorIs(t, err, relay.ErrValidation)
}
