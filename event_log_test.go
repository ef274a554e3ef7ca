package relay_test

import (
	"encoding/json"
	"testing"

	"github.com/fwojciec/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assistant(segments ...relay.Segment) relay.Event {
	return relay.NewEvent(relay.RoleAssistant, segments...)
}

func toolResult(id string) relay.Event {
	return relay.ToolResultEvent(relay.ToolResultSegment{ID: id, Output: json.RawMessage(`{"content":"ok"}`)})
}

func callIDs(calls []relay.ToolCallSegment) []string {
	ids := make([]string, len(calls))
	for i, c := range calls {
		ids[i] = c.ID
	}
	return ids
}

func TestEventLog_UnresolvedToolCalls(t *testing.T) {
	t.Parallel()

	t.Run("empty log", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, relay.NewEventLog().UnresolvedToolCalls())
	})

	t.Run("call without result", func(t *testing.T) {
		t.Parallel()
		log := relay.NewEventLog(
			relay.UserText("hi"),
			assistant(relay.ToolCallSegment{ID: "c1", Name: "search"}),
		)
		assert.Equal(t, []string{"c1"}, callIDs(log.UnresolvedToolCalls()))
	})

	t.Run("resolved by later result", func(t *testing.T) {
		t.Parallel()
		log := relay.NewEventLog(
			assistant(relay.ToolCallSegment{ID: "c1", Name: "search"}, relay.ToolCallSegment{ID: "c2", Name: "fetch"}),
			toolResult("c2"),
		)
		assert.Equal(t, []string{"c1"}, callIDs(log.UnresolvedToolCalls()))
	})

	t.Run("result before the call does not resolve it", func(t *testing.T) {
		t.Parallel()
		log := relay.NewEventLog(
			toolResult("c1"),
			assistant(relay.ToolCallSegment{ID: "c1", Name: "search"}),
		)
		assert.Equal(t, []string{"c1"}, callIDs(log.UnresolvedToolCalls()))
	})

	t.Run("remote calls are never unresolved", func(t *testing.T) {
		t.Parallel()
		log := relay.NewEventLog(
			assistant(relay.ToolCallSegment{ID: "mcp_1", Name: "search", ServerLabel: "docs", Output: json.RawMessage(`"x"`)}),
		)
		assert.Empty(t, log.UnresolvedToolCalls())
	})

	t.Run("order follows the log", func(t *testing.T) {
		t.Parallel()
		log := relay.NewEventLog(
			assistant(relay.ToolCallSegment{ID: "a"}, relay.TextSegment{Text: "and"}, relay.ToolCallSegment{ID: "b"}),
			toolResult("a"),
			assistant(relay.ToolCallSegment{ID: "c"}),
		)
		assert.Equal(t, []string{"b", "c"}, callIDs(log.UnresolvedToolCalls()))
	})
}

func TestEventLog_OpenApplySeal(t *testing.T) {
	t.Parallel()

	log := relay.NewEventLog(relay.UserText("Hello"))
	shell := assistant()
	require.NoError(t, log.Open(shell))

	require.NoError(t, log.ApplySegment(shell.ID, 0, relay.TextSegment{Text: "Hi"}))
	require.NoError(t, log.ApplySegment(shell.ID, 0, relay.TextSegment{Text: "Hi there"}))
	assert.Error(t, log.ApplySegment(shell.ID, 5, relay.TextSegment{Text: "gap"}))

	events := log.Events()
	require.Len(t, events, 2)
	assert.Equal(t, []relay.Segment{relay.TextSegment{Text: "Hi there"}}, events[1].Segments)

	final := events[1]
	require.NoError(t, log.Seal(final))
	err := log.ApplySegment(shell.ID, 1, relay.TextSegment{Text: "late"})
	assert.ErrorIs(t, err, relay.ErrEventSealed)
}

func TestEventLog_AppendSealsOpenEvent(t *testing.T) {
	t.Parallel()

	log := relay.NewEventLog()
	shell := assistant()
	require.NoError(t, log.Open(shell))
	require.NoError(t, log.Append(toolResult("c1")))

	err := log.ApplySegment(shell.ID, 0, relay.TextSegment{Text: "late"})
	assert.ErrorIs(t, err, relay.ErrEventSealed)
}

func TestEventLog_AppendRejectsInvalid(t *testing.T) {
	t.Parallel()
	log := relay.NewEventLog()
	err := log.Append(relay.NewEvent(relay.RoleTool))
	assert.ErrorIs(t, err, relay.ErrValidation)
	assert.Equal(t, 0, log.Len())
}

func TestReasoningSegment_Text(t *testing.T) {
	t.Parallel()

	seg := relay.ReasoningSegment{Parts: []relay.ReasoningPart{
		{SummaryIndex: 0, Text: "first"},
		{SummaryIndex: 1, Text: ""},
		{SummaryIndex: 2, Text: "second"},
	}}
	assert.Equal(t, "first\n\nsecond", seg.Text())
	assert.False(t, seg.Empty())

	seg.CombinedText = "combined"
	assert.Equal(t, "combined", seg.Text())

	assert.True(t, relay.ReasoningSegment{Parts: []relay.ReasoningPart{{Text: "  "}}}.Empty())
	require.NotNil(t, seg.Part(2))
	assert.Nil(t, seg.Part(7))
}
