package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/sse"
	"github.com/fwojciec/relay/toolargs"
)

// Interface compliance check.
var _ relay.Adapter = (*Chat)(nil)

// Chat implements [relay.Adapter] for the chat-completions protocol.
type Chat struct {
	client oai.Client
	model  string
}

// NewChat creates a chat-completions adapter.
func NewChat(apiKey string, opts ...Option) *Chat {
	cfg := newConfig(defaultChatModel, opts)
	return &Chat{client: cfg.newClient(apiKey), model: cfg.model}
}

// Name returns the adapter name.
func (c *Chat) Name() string { return ChatName }

// SupportsFeature reports the capabilities of the chat-completions protocol.
func (c *Chat) SupportsFeature(f relay.Feature) bool {
	switch f {
	case relay.FeatureTemperature, relay.FeatureToolCalling, relay.FeatureStreaming,
		relay.FeatureSystemMessage, relay.FeatureVision:
		return true
	default:
		return false
	}
}

// ValidateConfig checks req against the adapter's capabilities.
func (c *Chat) ValidateConfig(req relay.Request) relay.ConfigReport {
	r := relay.ValidateRequest(c, req)
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		r.Errors = append(r.Errors, "openai temperature must be between 0 and 2")
		r.Valid = false
	}
	if req.ReasoningSummary != "" {
		r.Warnings = append(r.Warnings, "reasoning summary is ignored by "+ChatName)
	}
	return r
}

// Chat sends req and waits for the complete response.
func (c *Chat) Chat(ctx context.Context, req relay.Request) (*relay.ChatResult, error) {
	s, err := c.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return relay.Collect(s)
}

// Stream starts a streaming chat completion.
func (c *Chat) Stream(ctx context.Context, req relay.Request) (relay.Stream, error) {
	params, err := c.params(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ChatName, err)
	}
	var resp *http.Response
	if err := c.client.Post(ctx, "chat/completions", params, &resp, option.WithJSONSet("stream", true)); err != nil {
		return nil, classifyError(ChatName, err)
	}
	return newStream(ctx, ChatName, resp.Body, &chatProtocol{calls: make(map[int64]*chatCall), text: -1}), nil
}

func (c *Chat) params(req relay.Request) (oai.ChatCompletionNewParams, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	msgs, err := chatMessages(req.Events)
	if err != nil {
		return oai.ChatCompletionNewParams{}, err
	}
	if req.SystemPrompt != "" {
		msgs = append([]oai.ChatCompletionMessageParamUnion{oai.SystemMessage(req.SystemPrompt)}, msgs...)
	}
	params := oai.ChatCompletionNewParams{
		Model:         model,
		Messages:      msgs,
		StreamOptions: oai.ChatCompletionStreamOptionsParam{IncludeUsage: oai.Bool(true)},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = oai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = oai.Float(*req.Temperature)
	}
	for _, t := range req.Tools {
		fn := shared.FunctionDefinitionParam{Name: t.Name, Parameters: toolSchema(t.Parameters)}
		if t.Description != "" {
			fn.Description = oai.String(t.Description)
		}
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{Function: fn})
	}
	return params, nil
}

// toolSchema decodes a tool's JSON schema, defaulting to an empty object
// schema.
func toolSchema(raw json.RawMessage) map[string]any {
	schema := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &schema)
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema
}

// chatHandler maps one part of a chunk onto the stream.
type chatHandler func(p *chatProtocol, s *stream, chunk *oai.ChatCompletionChunk) ([]relay.StreamEvent, error)

// chatHandlers is keyed by the parts a chunk can carry. A chunk is
// dispatched to the handler of every part present, in chatTagOrder.
var chatHandlers = map[string]chatHandler{
	"meta":          (*chatProtocol).onMeta,
	"content":       (*chatProtocol).onContent,
	"refusal":       (*chatProtocol).onContent,
	"tool_calls":    (*chatProtocol).onToolCalls,
	"finish_reason": (*chatProtocol).onFinishReason,
	"usage":         (*chatProtocol).onUsage,
}

var chatTagOrder = []string{"meta", "content", "refusal", "tool_calls", "finish_reason", "usage"}

const doneSentinel = "[DONE]"

// chatProtocol assembles a chat-completions stream. text is the index of
// the text segment, or -1 until one exists.
type chatProtocol struct {
	text   int
	calls  map[int64]*chatCall
	order  []int64
	finish string
}

type chatCall struct {
	id   string
	name string
	seg  int
}

func (p *chatProtocol) handle(s *stream, msg sse.Message) ([]relay.StreamEvent, error) {
	if msg.Data == doneSentinel {
		return s.finish(chatStopReason(p.finish), p.finish), nil
	}
	if e := gjson.Get(msg.Data, "error"); e.IsObject() {
		code := e.Get("code").String()
		return nil, relay.NewProviderError(ChatName, codeStatus(code), e.Get("message").String(), nil)
	}
	var chunk oai.ChatCompletionChunk
	if err := json.Unmarshal([]byte(msg.Data), &chunk); err != nil {
		return nil, err
	}
	var out []relay.StreamEvent
	for _, tag := range chunkTags(&chunk) {
		evts, err := chatHandlers[tag](p, s, &chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, evts...)
	}
	return out, nil
}

// eof completes a stream whose body ended after a finish reason but
// without the done sentinel.
func (p *chatProtocol) eof(s *stream) []relay.StreamEvent {
	if p.finish == "" {
		return nil
	}
	return s.finish(chatStopReason(p.finish), p.finish)
}

func chunkTags(chunk *oai.ChatCompletionChunk) []string {
	present := map[string]bool{"meta": chunk.ID != ""}
	if chunk.JSON.Usage.Valid() {
		present["usage"] = true
	}
	for _, ch := range chunk.Choices {
		present["content"] = present["content"] || ch.Delta.Content != ""
		present["refusal"] = present["refusal"] || ch.Delta.Refusal != ""
		present["tool_calls"] = present["tool_calls"] || len(ch.Delta.ToolCalls) > 0
		present["finish_reason"] = present["finish_reason"] || ch.FinishReason != ""
	}
	var tags []string
	for _, tag := range chatTagOrder {
		if present[tag] {
			tags = append(tags, tag)
		}
	}
	return tags
}

func (p *chatProtocol) onMeta(s *stream, chunk *oai.ChatCompletionChunk) ([]relay.StreamEvent, error) {
	md := s.event.ResponseMetadata
	if md.ResponseID == "" {
		md.ResponseID = chunk.ID
	}
	if md.Model == "" {
		md.Model = chunk.Model
	}
	return nil, nil
}

func (p *chatProtocol) onContent(s *stream, chunk *oai.ChatCompletionChunk) ([]relay.StreamEvent, error) {
	var out []relay.StreamEvent
	for _, ch := range chunk.Choices {
		delta := ch.Delta.Content + ch.Delta.Refusal
		if delta == "" {
			continue
		}
		idx := p.text
		var seg relay.TextSegment
		if idx < 0 {
			idx = len(s.event.Segments)
		} else {
			seg = s.event.Segments[idx].(relay.TextSegment)
		}
		seg.Text += delta
		evts, err := s.apply(idx, seg, relay.ChangeTextDelta, delta, 0)
		if err != nil {
			return nil, err
		}
		p.text = idx
		out = append(out, evts...)
	}
	return out, nil
}

func (p *chatProtocol) onToolCalls(s *stream, chunk *oai.ChatCompletionChunk) ([]relay.StreamEvent, error) {
	var out []relay.StreamEvent
	for _, ch := range chunk.Choices {
		for _, tc := range ch.Delta.ToolCalls {
			call, ok := p.calls[tc.Index]
			if !ok {
				if tc.ID == "" {
					return nil, fmt.Errorf("tool call %d: missing id", tc.Index)
				}
				call = &chatCall{id: tc.ID, name: tc.Function.Name, seg: len(s.event.Segments)}
				evts, err := s.apply(call.seg, relay.ToolCallSegment{ID: call.id, Name: call.name}, relay.ChangeToolCallStart, "", 0)
				if err != nil {
					return nil, err
				}
				p.calls[tc.Index] = call
				p.order = append(p.order, tc.Index)
				out = append(out, evts...)
			}
			if tc.Function.Arguments == "" {
				continue
			}
			if args, ok := s.args.Append(call.id, tc.Function.Arguments); ok {
				evts, err := p.resolve(s, call, args)
				if err != nil {
					return nil, err
				}
				out = append(out, evts...)
			}
		}
	}
	return out, nil
}

// onFinishReason records the finish reason and resolves the arguments of
// every call that never parsed. The done event waits for the usage chunk
// and the sentinel.
func (p *chatProtocol) onFinishReason(s *stream, chunk *oai.ChatCompletionChunk) ([]relay.StreamEvent, error) {
	var out []relay.StreamEvent
	for _, idx := range p.order {
		call := p.calls[idx]
		args, emit, err := s.args.Complete(call.id, "")
		if errors.Is(err, toolargs.ErrMalformed) {
			zerolog.Ctx(s.ctx).Warn().Str("provider", ChatName).Str("tool_id", call.id).Msg("malformed tool arguments, using {}")
		}
		if !emit {
			continue
		}
		evts, err := p.resolve(s, call, args)
		if err != nil {
			return nil, err
		}
		out = append(out, evts...)
	}
	for _, ch := range chunk.Choices {
		if ch.FinishReason != "" && p.finish == "" {
			p.finish = ch.FinishReason
		}
	}
	return out, nil
}

func (p *chatProtocol) onUsage(s *stream, chunk *oai.ChatCompletionChunk) ([]relay.StreamEvent, error) {
	u := chunk.Usage
	cached := int(u.PromptTokensDetails.CachedTokens)
	s.usage = &relay.Usage{
		InputTokens:     max(int(u.PromptTokens)-cached, 0),
		OutputTokens:    int(u.CompletionTokens),
		CacheReadTokens: cached,
		ReasoningTokens: int(u.CompletionTokensDetails.ReasoningTokens),
	}
	return nil, nil
}

func (p *chatProtocol) resolve(s *stream, call *chatCall, args json.RawMessage) ([]relay.StreamEvent, error) {
	seg := relay.ToolCallSegment{ID: call.id, Name: call.name, Args: args}
	return s.apply(call.seg, seg, relay.ChangeToolCallArgs, "", 0)
}

func chatStopReason(finish string) relay.StopReason {
	switch finish {
	case "stop":
		return relay.StopEndTurn
	case "length", "content_filter":
		return relay.StopLength
	case "tool_calls", "function_call":
		return relay.StopToolUse
	default:
		return relay.StopUnknown
	}
}
