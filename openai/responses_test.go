package openai_test

import (
	"context"
	"testing"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const (
	respCreated   = `{"type":"response.created","sequence_number":0,"response":{"id":"resp_1","object":"response","created_at":1,"status":"in_progress","model":"o4-mini-2025-04-16","output":[]}}`
	respCompleted = `{"type":"response.completed","sequence_number":99,"response":{"id":"resp_1","object":"response","created_at":1,"status":"completed","model":"o4-mini-2025-04-16","output":[],"usage":{"input_tokens":20,"input_tokens_details":{"cached_tokens":8},"output_tokens":30,"output_tokens_details":{"reasoning_tokens":12},"total_tokens":50}}}`
)

// ev builds a frame whose event name matches the payload type.
func ev(typ, data string) frame {
	return frame{Event: typ, Data: data}
}

func reasoningFrames() []frame {
	return []frame{
		ev("response.created", respCreated),
		ev("response.output_item.added", `{"type":"response.output_item.added","sequence_number":1,"output_index":0,"item":{"id":"rs_1","type":"reasoning","summary":[]}}`),
		ev("response.reasoning_summary_part.added", `{"type":"response.reasoning_summary_part.added","sequence_number":2,"item_id":"rs_1","output_index":0,"summary_index":0,"part":{"type":"summary_text","text":""}}`),
		ev("response.reasoning_summary_text.delta", `{"type":"response.reasoning_summary_text.delta","sequence_number":3,"item_id":"rs_1","output_index":0,"summary_index":0,"delta":"Weighing "}`),
		ev("response.reasoning_summary_text.delta", `{"type":"response.reasoning_summary_text.delta","sequence_number":4,"item_id":"rs_1","output_index":0,"summary_index":0,"delta":"options."}`),
		ev("response.reasoning_summary_text.done", `{"type":"response.reasoning_summary_text.done","sequence_number":5,"item_id":"rs_1","output_index":0,"summary_index":0,"text":"Weighing options."}`),
		ev("response.reasoning_summary_part.done", `{"type":"response.reasoning_summary_part.done","sequence_number":6,"item_id":"rs_1","output_index":0,"summary_index":0,"part":{"type":"summary_text","text":"Weighing options."}}`),
		ev("response.output_item.done", `{"type":"response.output_item.done","sequence_number":7,"output_index":0,"item":{"id":"rs_1","type":"reasoning","summary":[{"type":"summary_text","text":"Weighing options."}]}}`),
		ev("response.output_item.added", `{"type":"response.output_item.added","sequence_number":8,"output_index":1,"item":{"id":"msg_1","type":"message","role":"assistant","status":"in_progress","content":[]}}`),
		ev("response.output_text.delta", `{"type":"response.output_text.delta","sequence_number":9,"item_id":"msg_1","output_index":1,"content_index":0,"delta":"Hello"}`),
		ev("response.output_item.done", `{"type":"response.output_item.done","sequence_number":10,"output_index":1,"item":{"id":"msg_1","type":"message","role":"assistant","status":"completed","content":[{"type":"output_text","text":"Hello","annotations":[{"type":"url_citation","url":"https://example.com","title":"Example","start_index":0,"end_index":5}]}]}}`),
		ev("response.completed", respCompleted),
	}
}

func responsesStream(t *testing.T, frames []frame, opts ...openai.Option) relay.Stream {
	t.Helper()
	opts = append(opts, openai.WithBaseURL(serve(t, &replay{frames: frames})))
	r := openai.NewResponses("k", opts...)
	s, err := r.Stream(context.Background(), relay.Request{Events: []relay.Event{relay.UserText("Hello")}})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResponses_ReasoningAndText(t *testing.T) {
	t.Parallel()
	s := responsesStream(t, reasoningFrames())

	events := collectEvents(t, s)
	_, ok := events[0].(relay.StreamEventStart)
	require.True(t, ok)
	segs := segmentEvents(events)
	assert.Equal(t, []relay.SegmentChange{
		relay.ChangeReasoningStart,
		relay.ChangeReasoningPart,
		relay.ChangeReasoningDelta,
		relay.ChangeReasoningDelta,
		relay.ChangeReasoningPartDone,
		relay.ChangeReasoningComplete,
		relay.ChangeTextDelta,
	}, changes(segs))
	assert.Equal(t, "options.", segs[3].Delta)
	assert.False(t, segs[3].Segment.(relay.ReasoningSegment).Parts[0].IsComplete, "earlier snapshots are not mutated")

	done, ok := events[len(events)-1].(relay.StreamEventDone)
	require.True(t, ok)
	assert.Equal(t, &relay.Usage{InputTokens: 12, OutputTokens: 30, CacheReadTokens: 8, ReasoningTokens: 12}, done.Usage)

	evt, err := s.Event()
	require.NoError(t, err)
	require.Len(t, evt.Segments, 2)
	reasoning := evt.Segments[0].(relay.ReasoningSegment)
	assert.Equal(t, "rs_1", reasoning.ID)
	assert.False(t, reasoning.Streaming)
	assert.Equal(t, "Weighing options.", reasoning.CombinedText)
	require.Len(t, reasoning.Parts, 1)
	assert.True(t, reasoning.Parts[0].IsComplete)

	text := evt.Segments[1].(relay.TextSegment)
	assert.Equal(t, "Hello", text.Text)
	assert.Equal(t, []relay.Citation{{URL: "https://example.com", Title: "Example", StartIndex: 0, EndIndex: 5}}, text.Citations)

	assert.Equal(t, relay.StopEndTurn, evt.ResponseMetadata.StopReason)
	assert.Equal(t, "resp_1", evt.ResponseMetadata.ResponseID)
	assert.Equal(t, "o4-mini-2025-04-16", evt.ResponseMetadata.Model)
}

func TestResponses_FunctionCallArgumentsResolveOnce(t *testing.T) {
	t.Parallel()
	s := responsesStream(t, []frame{
		ev("response.created", respCreated),
		ev("response.output_item.added", `{"type":"response.output_item.added","sequence_number":1,"output_index":0,"item":{"id":"fc_1","type":"function_call","call_id":"call_1","name":"search","arguments":""}}`),
		ev("response.function_call_arguments.delta", `{"type":"response.function_call_arguments.delta","sequence_number":2,"item_id":"fc_1","output_index":0,"delta":"{\"q\":"}`),
		ev("response.function_call_arguments.delta", `{"type":"response.function_call_arguments.delta","sequence_number":3,"item_id":"fc_1","output_index":0,"delta":"\"x\"}"}`),
		ev("response.function_call_arguments.done", `{"type":"response.function_call_arguments.done","sequence_number":4,"item_id":"fc_1","output_index":0,"arguments":"{\"q\":\"x\"}"}`),
		ev("response.output_item.done", `{"type":"response.output_item.done","sequence_number":5,"output_index":0,"item":{"id":"fc_1","type":"function_call","call_id":"call_1","name":"search","arguments":"{\"q\":\"x\"}"}}`),
		ev("response.completed", respCompleted),
	})

	segs := segmentEvents(collectEvents(t, s))
	assert.Equal(t, []relay.SegmentChange{relay.ChangeToolCallStart, relay.ChangeToolCallArgs}, changes(segs))
	call := segs[1].Segment.(relay.ToolCallSegment)
	assert.Equal(t, "call_1", call.ID)
	assert.JSONEq(t, `{"q":"x"}`, string(call.Args))

	evt, err := s.Event()
	require.NoError(t, err)
	assert.Equal(t, relay.StopToolUse, evt.ResponseMetadata.StopReason)
}

func TestResponses_RemoteToolCall(t *testing.T) {
	t.Parallel()
	s := responsesStream(t, []frame{
		ev("response.created", respCreated),
		ev("response.output_item.added", `{"type":"response.output_item.added","sequence_number":1,"output_index":0,"item":{"id":"mcp_1","type":"mcp_call","name":"lookup","server_label":"docs","arguments":""}}`),
		ev("response.mcp_call_arguments.delta", `{"type":"response.mcp_call_arguments.delta","sequence_number":2,"item_id":"mcp_1","output_index":0,"delta":"{\"k\":"}`),
		ev("response.mcp_call_arguments.delta", `{"type":"response.mcp_call_arguments.delta","sequence_number":3,"item_id":"mcp_1","output_index":0,"delta":"1}"}`),
		ev("response.mcp_call_arguments.done", `{"type":"response.mcp_call_arguments.done","sequence_number":4,"item_id":"mcp_1","output_index":0,"arguments":"{\"k\":1}"}`),
		ev("response.mcp_call.completed", `{"type":"response.mcp_call.completed","sequence_number":5,"item_id":"mcp_1","output_index":0}`),
		ev("response.output_item.done", `{"type":"response.output_item.done","sequence_number":6,"output_index":0,"item":{"id":"mcp_1","type":"mcp_call","name":"lookup","server_label":"docs","arguments":"{\"k\":1}","output":"found it"}}`),
		ev("response.completed", respCompleted),
	}, openai.WithRemoteTools(relay.RemoteToolServer{Label: "docs", URL: "https://mcp.example.com"}))

	segs := segmentEvents(collectEvents(t, s))
	assert.Equal(t, []relay.SegmentChange{
		relay.ChangeToolCallStart,
		relay.ChangeToolCallArgsDelta,
		relay.ChangeToolCallArgsDelta,
		relay.ChangeToolCallArgs,
		relay.ChangeToolCallOutput,
	}, changes(segs))
	assert.Equal(t, "1}", segs[2].Delta)

	evt, err := s.Event()
	require.NoError(t, err)
	call := evt.ToolCalls()[0]
	assert.True(t, call.Remote())
	assert.Equal(t, "docs", call.ServerLabel)
	assert.JSONEq(t, `{"k":1}`, string(call.Args))
	assert.JSONEq(t, `"found it"`, string(call.Output))
	assert.Equal(t, relay.StopEndTurn, evt.ResponseMetadata.StopReason, "remote calls need no local iteration")

	log := relay.NewEventLog(relay.UserText("Hello"), evt)
	assert.Empty(t, log.UnresolvedToolCalls())
}

func TestResponses_Incomplete(t *testing.T) {
	t.Parallel()
	s := responsesStream(t, []frame{
		ev("response.created", respCreated),
		ev("response.incomplete", `{"type":"response.incomplete","sequence_number":1,"response":{"id":"resp_1","object":"response","created_at":1,"status":"incomplete","incomplete_details":{"reason":"max_output_tokens"},"model":"o4-mini","output":[]}}`),
	})

	collectEvents(t, s)
	evt, err := s.Event()
	require.NoError(t, err)
	assert.Equal(t, relay.StopLength, evt.ResponseMetadata.StopReason)
	assert.Equal(t, "max_output_tokens", evt.ResponseMetadata.RawStopReason)
}

func TestResponses_FailuresAreClassified(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame frame
		want  error
	}{
		{
			name:  "failed rate limit",
			frame: ev("response.failed", `{"type":"response.failed","sequence_number":1,"response":{"id":"resp_1","object":"response","created_at":1,"status":"failed","error":{"code":"rate_limit_exceeded","message":"slow down"},"model":"o4-mini","output":[]}}`),
			want:  relay.ErrProviderRateLimit,
		},
		{
			name:  "failed server error",
			frame: ev("response.failed", `{"type":"response.failed","sequence_number":1,"response":{"id":"resp_1","object":"response","created_at":1,"status":"failed","error":{"code":"server_error","message":"boom"},"model":"o4-mini","output":[]}}`),
			want:  relay.ErrProviderUpstream,
		},
		{
			name:  "error event",
			frame: ev("error", `{"type":"error","sequence_number":1,"code":"something_new","message":"bad","param":null}`),
			want:  relay.ErrProviderUpstream,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := responsesStream(t, []frame{ev("response.created", respCreated), tt.frame})
			err := drainError(s)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "openai-responses:")
		})
	}
}

func TestResponses_UnexpectedEOF(t *testing.T) {
	t.Parallel()
	frames := reasoningFrames()
	s := responsesStream(t, frames[:len(frames)-1])

	err := drainError(s)
	assert.Contains(t, err.Error(), "unexpected end of stream")
}

func TestResponses_MalformedEventIsSkipped(t *testing.T) {
	t.Parallel()
	frames := reasoningFrames()
	frames = append(frames[:4:4], append([]frame{
		ev("response.output_text.delta", `{"type":"response.output_text.delta","item_id":"unknown","delta":"x"}`),
		ev("response.reasoning_summary_text.delta", `{broken`),
	}, frames[4:]...)...)
	s := responsesStream(t, frames)

	events := collectEvents(t, s)
	assert.Equal(t, 1, countDone(events))
	evt, err := s.Event()
	require.NoError(t, err)
	assert.Equal(t, "Hello", evt.Text())
}

func TestResponses_RequestFormat(t *testing.T) {
	t.Parallel()
	r := &replay{frames: reasoningFrames()}
	a := openai.NewResponses("k",
		openai.WithBaseURL(serve(t, r)),
		openai.WithRemoteTools(relay.RemoteToolServer{
			Label:   "docs",
			URL:     "https://mcp.example.com",
			Headers: map[string]string{"Authorization": "Bearer t"},
			Allowed: []string{"lookup"},
		}),
	)
	assert.True(t, relay.IsSelfExecuting(a))

	temp := 0.5
	_, err := a.Chat(context.Background(), relay.Request{
		SystemPrompt:    "Think first.",
		Events:          []relay.Event{relay.UserText("Hello")},
		Tools:           []relay.Tool{{Name: "search"}},
		MaxTokens:       8000,
		Temperature:     &temp,
		ReasoningEffort: "high",
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/responses", r.requestPath())
	body := gjson.ParseBytes(r.requestBody())
	assert.Equal(t, "o4-mini", body.Get("model").String())
	assert.True(t, body.Get("stream").Bool())
	assert.Equal(t, "Think first.", body.Get("instructions").String())
	assert.Equal(t, int64(8000), body.Get("max_output_tokens").Int())
	assert.Equal(t, "high", body.Get("reasoning.effort").String())
	assert.Equal(t, "auto", body.Get("reasoning.summary").String())
	assert.False(t, body.Get("temperature").Exists())

	assert.Equal(t, "user", body.Get("input.0.role").String())
	assert.Equal(t, "Hello", body.Get("input.0.content").String())

	tools := body.Get("tools").Array()
	require.Len(t, tools, 2)
	assert.Equal(t, "function", tools[0].Get("type").String())
	assert.Equal(t, "search", tools[0].Get("name").String())
	assert.Equal(t, "mcp", tools[1].Get("type").String())
	assert.Equal(t, "docs", tools[1].Get("server_label").String())
	assert.Equal(t, "never", tools[1].Get("require_approval").String())
	assert.Equal(t, "lookup", tools[1].Get("allowed_tools.0").String())
	assert.Equal(t, "Bearer t", tools[1].Get("headers.Authorization").String())
}

func TestResponses_Features(t *testing.T) {
	t.Parallel()
	r := openai.NewResponses("k")
	assert.Equal(t, "openai-responses", r.Name())
	assert.True(t, r.SupportsFeature(relay.FeatureReasoning))
	assert.False(t, r.SupportsFeature(relay.FeatureTemperature))
	assert.False(t, relay.IsSelfExecuting(r))

	temp := 0.5
	report := r.ValidateConfig(relay.Request{Events: []relay.Event{relay.UserText("x")}, Temperature: &temp, ReasoningSummary: "verbose"})
	assert.False(t, report.Valid)
	assert.Contains(t, report.Warnings, "temperature is ignored by openai-responses")
}
