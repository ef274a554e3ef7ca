package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/anthropic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_TextResponse(t *testing.T) {
	t.Parallel()
	s := streamFromSSE(t, textStreamResponse())

	events := collectEvents(t, s)
	require.Len(t, events, 4)

	start, ok := events[0].(relay.StreamEventStart)
	require.True(t, ok, "first event is the start marker")
	assert.Equal(t, relay.RoleAssistant, start.Event.Role)

	segs := segmentEvents(events)
	require.Len(t, segs, 2)
	assert.Equal(t, relay.ChangeTextDelta, segs[0].Change)
	assert.Equal(t, "Hi", segs[0].Delta)
	assert.Equal(t, " there", segs[1].Delta)
	assert.Equal(t, relay.TextSegment{Text: "Hi there"}, segs[1].Segment)
	assert.Equal(t, start.Event.ID, segs[1].EventID)

	done, ok := events[3].(relay.StreamEventDone)
	require.True(t, ok, "last event is done")
	require.NotNil(t, done.Usage)
	assert.Equal(t, 10, done.Usage.InputTokens)
	assert.Equal(t, 5, done.Usage.OutputTokens)

	evt, err := s.Event()
	require.NoError(t, err)
	assert.Equal(t, []relay.Segment{relay.TextSegment{Text: "Hi there"}}, evt.Segments)
	assert.Equal(t, relay.StopEndTurn, evt.ResponseMetadata.StopReason)
	assert.Equal(t, "end_turn", evt.ResponseMetadata.RawStopReason)
	assert.Equal(t, "msg_1", evt.ResponseMetadata.ResponseID)
	assert.Equal(t, "anthropic", evt.ResponseMetadata.Provider)
	assert.Equal(t, relay.StreamStateComplete, s.State())
}

func TestStream_ToolUseArgumentsResolveOnce(t *testing.T) {
	t.Parallel()
	resp := sseResponse{events: []sseEvent{
		{"message_start", messageStart},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me check."}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"search","input":{}}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":""}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"a\":1"}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":",\"b\":2}"}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":1}`},
		{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":42}}`},
		{"message_stop", `{"type":"message_stop"}`},
	}}
	s := streamFromSSE(t, resp)

	segs := segmentEvents(collectEvents(t, s))
	require.Len(t, segs, 3)
	assert.Equal(t, relay.ChangeToolCallStart, segs[1].Change)
	assert.Equal(t, 1, segs[1].Index)
	assert.Equal(t, relay.ChangeToolCallArgs, segs[2].Change)
	call := segs[2].Segment.(relay.ToolCallSegment)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(call.Args))

	evt, err := s.Event()
	require.NoError(t, err)
	require.Len(t, evt.ToolCalls(), 1)
	assert.Equal(t, "toolu_1", evt.ToolCalls()[0].ID)
	assert.Equal(t, relay.StopToolUse, evt.ResponseMetadata.StopReason)
}

func TestStream_ToolUseWithoutArguments(t *testing.T) {
	t.Parallel()
	resp := sseResponse{events: []sseEvent{
		{"message_start", messageStart},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"now","input":{}}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		{"message_stop", `{"type":"message_stop"}`},
	}}
	s := streamFromSSE(t, resp)

	segs := segmentEvents(collectEvents(t, s))
	require.Len(t, segs, 2)
	assert.JSONEq(t, `{}`, string(segs[1].Segment.(relay.ToolCallSegment).Args))
}

func TestStream_Thinking(t *testing.T) {
	t.Parallel()
	resp := sseResponse{events: []sseEvent{
		{"message_start", messageStart},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Consider "}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"options."}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig"}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		{"message_stop", `{"type":"message_stop"}`},
	}}
	s := streamFromSSE(t, resp)

	segs := segmentEvents(collectEvents(t, s))
	changes := make([]relay.SegmentChange, len(segs))
	for i, se := range segs {
		changes[i] = se.Change
	}
	assert.Equal(t, []relay.SegmentChange{
		relay.ChangeReasoningStart,
		relay.ChangeReasoningPart,
		relay.ChangeReasoningDelta,
		relay.ChangeReasoningDelta,
		relay.ChangeReasoningPartDone,
		relay.ChangeReasoningComplete,
	}, changes)

	evt, err := s.Event()
	require.NoError(t, err)
	seg := evt.Segments[0].(relay.ReasoningSegment)
	assert.False(t, seg.Streaming)
	assert.True(t, seg.Parts[0].IsComplete)
	assert.Equal(t, "Consider options.", seg.Text())
}

func TestStream_MalformedChunkIsSkipped(t *testing.T) {
	t.Parallel()
	resp := textStreamResponse()
	resp.events = append(resp.events[:3:3], append([]sseEvent{
		{"content_block_delta", `{not json`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"stray"}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{}"}}`},
	}, resp.events[3:]...)...)
	s := streamFromSSE(t, resp)

	assert.NotPanics(t, func() { collectEvents(t, s) })
	evt, err := s.Event()
	require.NoError(t, err)
	assert.Equal(t, "Hi there", evt.Text())
	require.Len(t, evt.Segments, 1)
}

func TestStream_ErrorEvent(t *testing.T) {
	t.Parallel()
	resp := sseResponse{events: []sseEvent{
		{"message_start", messageStart},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`},
		{"error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`},
	}}
	s := streamFromSSE(t, resp)

	var err error
	for err == nil {
		_, err = s.Next()
	}
	assert.ErrorIs(t, err, relay.ErrProviderUpstream)
	assert.Contains(t, err.Error(), "anthropic:")
	assert.Equal(t, relay.StreamStateError, s.State())

	evt, evtErr := s.Event()
	require.NoError(t, evtErr)
	assert.Equal(t, "partial", evt.Text())
	assert.Equal(t, relay.StopError, evt.ResponseMetadata.StopReason)
}

func TestStream_UnexpectedEOF(t *testing.T) {
	t.Parallel()
	resp := textStreamResponse()
	resp.events = resp.events[:4]
	s := streamFromSSE(t, resp)

	var err error
	for err == nil {
		_, err = s.Next()
	}
	assert.Contains(t, err.Error(), "unexpected end of stream")
}

func TestStream_DuplicateStopIsIgnored(t *testing.T) {
	t.Parallel()
	resp := textStreamResponse()
	resp.events = append(resp.events, sseEvent{"message_stop", `{"type":"message_stop"}`})
	s := streamFromSSE(t, resp)

	var dones int
	for _, e := range collectEvents(t, s) {
		if _, ok := e.(relay.StreamEventDone); ok {
			dones++
		}
	}
	assert.Equal(t, 1, dones)
}

func TestStream_CloseBeforeCompletion(t *testing.T) {
	t.Parallel()
	s := streamFromSSE(t, textStreamResponse())

	_, err := s.Next()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Equal(t, relay.StreamStateClosed, s.State())
	_, err = s.Next()
	assert.ErrorIs(t, err, relay.ErrStreamClosed)
	evt, err := s.Event()
	require.NoError(t, err)
	assert.Equal(t, relay.StopAborted, evt.ResponseMetadata.StopReason)
}

func TestStream_EventBeforeNext(t *testing.T) {
	t.Parallel()
	s := streamFromSSE(t, textStreamResponse())
	_, err := s.Event()
	assert.ErrorIs(t, err, relay.ErrStreamNotReady)
}

func TestChat_CollectsResult(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(textStreamResponse().handler())
	t.Cleanup(srv.Close)

	client := anthropic.New("k", anthropic.WithBaseURL(srv.URL))
	res, err := client.Chat(context.Background(), relay.Request{Events: []relay.Event{relay.UserText("Hello")}})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res.Event.Text())
	require.NotNil(t, res.Usage)
	assert.Equal(t, 5, res.Usage.OutputTokens)
}

func TestStream_HTTPErrorsAreClassified(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, relay.ErrProviderAuth},
		{http.StatusTooManyRequests, relay.ErrProviderRateLimit},
		{http.StatusBadRequest, relay.ErrProviderBadInput},
		{http.StatusInternalServerError, relay.ErrProviderUpstream},
		{http.StatusForbidden, relay.ErrProviderUnknown},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"type":  "error",
					"error": map[string]string{"type": "some_error", "message": "nope"},
				})
			}))
			t.Cleanup(srv.Close)

			client := anthropic.New("k", anthropic.WithBaseURL(srv.URL))
			_, err := client.Stream(context.Background(), relay.Request{Events: []relay.Event{relay.UserText("x")}})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "anthropic:")
			assert.Contains(t, err.Error(), "nope")
		})
	}
}
