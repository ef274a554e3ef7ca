package export_test

import (
	"encoding/json"
	"testing"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const systemPrompt = "You are a helpful, harmless, and honest AI assistant."

func text(role relay.Role, s string) relay.Event {
	return relay.NewEvent(role, relay.TextSegment{Text: s})
}

func TestScript_AnthropicHTTP(t *testing.T) {
	t.Parallel()
	reply := text(relay.RoleAssistant, "Hello!")
	events := []relay.Event{text(relay.RoleUser, "test"), reply}

	got, err := export.Script(relay.VendorAnthropic, export.FormatPythonHTTP, "claude-3-7-sonnet-latest", events,
		export.Options{SystemPrompt: systemPrompt})
	require.NoError(t, err)

	assert.Contains(t, got, `"x-api-key": ANTHROPIC_API_KEY,`)
	assert.Contains(t, got, `"anthropic-version": "2023-06-01",`)
	assert.Contains(t, got, "# Replay the recorded assistant turn "+reply.ID)
	assert.Contains(t, got, `    body = {
        "model": "claude-3-7-sonnet-latest",
        "messages": [
            {
                "role": "user",
                "content": [
                    {
                        "type": "text",
                        "text": "test"
                    }
                ]
            }
        ],
        "system": "You are a helpful, harmless, and honest AI assistant.",
        "max_tokens": 4096
    }
    response = requests.post(
        'https://api.anthropic.com/v1/messages',`)
}

func TestScript_AnthropicSDK(t *testing.T) {
	t.Parallel()
	reply := text(relay.RoleAssistant, "Hello!")
	events := []relay.Event{
		text(relay.RoleSystem, "from the log"),
		text(relay.RoleUser, "test"),
		reply,
	}

	got, err := export.Script(relay.VendorAnthropic, export.FormatPythonSDK, "claude-3-5-sonnet", events, export.Options{})
	require.NoError(t, err)

	assert.Contains(t, got, `client = anthropic.Anthropic(api_key=os.environ["ANTHROPIC_API_KEY"])`)
	assert.Contains(t, got, "# Step 1: Recreate assistant turn "+reply.ID)
	assert.Contains(t, got, "response_1 = client.messages.create(**{\n")
	assert.Contains(t, got, `"system": "from the log",`)
	assert.Contains(t, got, "\n    })\n    print(\"assistant 1:\", response_1)")
}

func TestScript_ReplaysLastAssistantTurn(t *testing.T) {
	t.Parallel()
	call := relay.ToolCallSegment{ID: "toolu_1", Name: "search", Args: json.RawMessage(`{"q":"x","exact":true,"limit":null}`)}
	last := text(relay.RoleAssistant, "found it")
	events := []relay.Event{
		text(relay.RoleUser, "find x"),
		relay.NewEvent(relay.RoleAssistant, call),
		relay.ToolResultEvent(relay.ToolResultSegment{ID: "toolu_1", Output: json.RawMessage(`{"content":"y"}`)}),
		last,
		text(relay.RoleUser, "thanks"),
	}

	got, err := export.Script(relay.VendorAnthropic, export.FormatPythonSDK, "claude-sonnet-4-5", events, export.Options{})
	require.NoError(t, err)

	assert.Contains(t, got, last.ID)
	assert.Contains(t, got, `"exact": True`)
	assert.Contains(t, got, `"limit": None`)
	assert.Contains(t, got, `"tool_use_id": "toolu_1"`)
	assert.NotContains(t, got, "found it")
	assert.NotContains(t, got, "thanks")
	assert.NotContains(t, got, `"system"`)
}

func TestScript_OpenAIResponsesSDK(t *testing.T) {
	t.Parallel()
	events := []relay.Event{
		text(relay.RoleUser, "test"),
		relay.NewEvent(relay.RoleAssistant,
			relay.ReasoningSegment{ID: "rs_1", Parts: []relay.ReasoningPart{{Text: "thinking"}}},
			relay.TextSegment{Text: "Hi!"},
		),
	}

	got, err := export.Script(relay.VendorOpenAI, export.FormatPythonSDK, "gpt-5", events, export.Options{
		Mode:             relay.ModeReasoning,
		SystemPrompt:     systemPrompt,
		ReasoningEffort:  "low",
		ReasoningSummary: "detailed",
	})
	require.NoError(t, err)

	assert.Contains(t, got, `client = OpenAI(api_key=os.environ.get("OPENAI_API_KEY"))`)
	assert.Contains(t, got, "response = client.responses.create(**payload)")
	assert.Contains(t, got, `    payload = {
        "model": "gpt-5",
        "input": [
            {
                "id": "msg_0",
                "type": "message",
                "role": "system",
                "content": [
                    {
                        "type": "input_text",
                        "text": "You are a helpful, harmless, and honest AI assistant."
                    }
                ]
            },
            {
                "id": "msg_1",
                "type": "message",
                "role": "user",
                "content": [
                    {
                        "type": "input_text",
                        "text": "test"
                    }
                ]
            }
        ],
        "max_output_tokens": 8000,
        "reasoning": {
            "effort": "low",
            "summary": "detailed"
        }
    }`)
}

func TestScript_OpenAIResponsesKeepsPriorTurns(t *testing.T) {
	t.Parallel()
	events := []relay.Event{
		text(relay.RoleUser, "hi"),
		relay.NewEvent(relay.RoleAssistant,
			relay.ReasoningSegment{ID: "rs_1", Parts: []relay.ReasoningPart{{Text: "greeting"}}},
			relay.TextSegment{Text: "Hello"},
		),
		text(relay.RoleUser, "again"),
		text(relay.RoleAssistant, "Hello again"),
	}

	got, err := export.Script(relay.VendorOpenAI, export.FormatPythonSDK, "o3", events, export.Options{Mode: relay.ModeReasoning})
	require.NoError(t, err)

	assert.Contains(t, got, `"id": "rs_1"`)
	assert.Contains(t, got, `"text": "greeting"`)
	assert.Contains(t, got, `"type": "output_text"`)
	assert.NotContains(t, got, "Hello again")
	assert.NotContains(t, got, `"reasoning": {`)
}

func TestScript_OpenAIChat(t *testing.T) {
	t.Parallel()
	events := []relay.Event{text(relay.RoleUser, "test"), text(relay.RoleAssistant, "Hi")}

	sdk, err := export.Script(relay.VendorOpenAI, export.FormatPythonSDK, "gpt-4o", events, export.Options{SystemPrompt: "Be brief."})
	require.NoError(t, err)
	assert.Contains(t, sdk, "client.chat.completions.create(**payload)")
	assert.Contains(t, sdk, `"model": "gpt-4o"`)
	assert.Contains(t, sdk, `"content": "Be brief."`)
	assert.NotContains(t, sdk, "max_output_tokens")

	http, err := export.Script(relay.VendorOpenAI, export.FormatPythonHTTP, "gpt-4o", events, export.Options{})
	require.NoError(t, err)
	assert.Contains(t, http, "'https://api.openai.com/v1/chat/completions'")
	assert.Contains(t, http, `"Authorization": f"Bearer {OPENAI_API_KEY}",`)
}

func TestScript_Errors(t *testing.T) {
	t.Parallel()

	_, err := export.Script(relay.VendorAnthropic, export.FormatPythonSDK, "claude-sonnet-4-5",
		[]relay.Event{text(relay.RoleUser, "hi")}, export.Options{})
	assert.ErrorIs(t, err, export.ErrNothingToReplay)

	_, err = export.Script("mistral", export.FormatPythonSDK, "m", []relay.Event{text(relay.RoleAssistant, "x")}, export.Options{})
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	f, err := export.ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, export.FormatPythonSDK, f)

	f, err = export.ParseFormat("python-http")
	require.NoError(t, err)
	assert.Equal(t, export.FormatPythonHTTP, f)

	_, err = export.ParseFormat("curl")
	assert.ErrorIs(t, err, export.ErrUnknownFormat)
}
