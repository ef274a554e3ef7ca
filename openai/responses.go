package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/sse"
	"github.com/fwojciec/relay/toolargs"
)

// Interface compliance checks.
var (
	_ relay.Adapter      = (*Responses)(nil)
	_ relay.SelfExecutor = (*Responses)(nil)
)

// Responses implements [relay.Adapter] for the responses protocol used by
// reasoning models. Remote tool servers registered with [WithRemoteTools]
// are called by the vendor during the response.
type Responses struct {
	client oai.Client
	model  string
	remote []relay.RemoteToolServer
}

// NewResponses creates a responses adapter.
func NewResponses(apiKey string, opts ...Option) *Responses {
	cfg := newConfig(defaultResponsesModel, opts)
	return &Responses{client: cfg.newClient(apiKey), model: cfg.model, remote: cfg.remote}
}

// Name returns the adapter name.
func (r *Responses) Name() string { return ResponsesName }

// SelfExecuting reports whether remote tool servers are configured.
func (r *Responses) SelfExecuting() bool { return len(r.remote) > 0 }

// SupportsFeature reports the capabilities of the responses protocol.
func (r *Responses) SupportsFeature(f relay.Feature) bool {
	switch f {
	case relay.FeatureReasoning, relay.FeatureReasoningEffort, relay.FeatureToolCalling,
		relay.FeatureStreaming, relay.FeatureSystemMessage, relay.FeatureVision:
		return true
	default:
		return false
	}
}

// ValidateConfig checks req against the adapter's capabilities.
func (r *Responses) ValidateConfig(req relay.Request) relay.ConfigReport {
	report := relay.ValidateRequest(r, req)
	switch req.ReasoningSummary {
	case "", "auto", "concise", "detailed":
	default:
		report.Errors = append(report.Errors, "reasoning summary must be auto, concise or detailed")
		report.Valid = false
	}
	return report
}

// Chat sends req and waits for the complete response.
func (r *Responses) Chat(ctx context.Context, req relay.Request) (*relay.ChatResult, error) {
	s, err := r.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return relay.Collect(s)
}

// Stream starts a streaming response.
func (r *Responses) Stream(ctx context.Context, req relay.Request) (relay.Stream, error) {
	params, err := r.params(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ResponsesName, err)
	}
	var resp *http.Response
	if err := r.client.Post(ctx, "responses", params, &resp, option.WithJSONSet("stream", true)); err != nil {
		return nil, classifyError(ResponsesName, err)
	}
	return newStream(ctx, ResponsesName, resp.Body, &responsesProtocol{items: make(map[string]*outputItem)}), nil
}

func (r *Responses) params(req relay.Request) (responses.ResponseNewParams, error) {
	model := req.Model
	if model == "" {
		model = r.model
	}
	items, err := responsesInput(req.Events)
	if err != nil {
		return responses.ResponseNewParams{}, err
	}
	summary := req.ReasoningSummary
	if summary == "" {
		summary = string(shared.ReasoningSummaryAuto)
	}
	params := responses.ResponseNewParams{
		Model: model,
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: items},
		Reasoning: shared.ReasoningParam{
			Effort:  shared.ReasoningEffort(req.ReasoningEffort),
			Summary: shared.ReasoningSummary(summary),
		},
	}
	if req.SystemPrompt != "" {
		params.Instructions = oai.String(req.SystemPrompt)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = oai.Int(int64(req.MaxTokens))
	}
	for _, t := range req.Tools {
		fn := &responses.FunctionToolParam{
			Name:       t.Name,
			Parameters: toolSchema(t.Parameters),
			Strict:     oai.Bool(false),
		}
		if t.Description != "" {
			fn.Description = oai.String(t.Description)
		}
		params.Tools = append(params.Tools, responses.ToolUnionParam{OfFunction: fn})
	}
	for _, srv := range r.remote {
		mcp := &responses.ToolMcpParam{
			ServerLabel:     srv.Label,
			ServerURL:       srv.URL,
			Headers:         srv.Headers,
			RequireApproval: responses.ToolMcpRequireApprovalUnionParam{OfMcpToolApprovalSetting: oai.String("never")},
		}
		if len(srv.Allowed) > 0 {
			mcp.AllowedTools = responses.ToolMcpAllowedToolsUnionParam{OfMcpAllowedTools: srv.Allowed}
		}
		params.Tools = append(params.Tools, responses.ToolUnionParam{OfMcp: mcp})
	}
	return params, nil
}

// responsesHandler maps one stream event onto the stream.
type responsesHandler func(p *responsesProtocol, s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error)

// responsesHandlers is keyed by the event type. Types without an entry are
// ignored.
var responsesHandlers = map[string]responsesHandler{
	"response.created":                       (*responsesProtocol).onCreated,
	"response.output_item.added":             (*responsesProtocol).onItemAdded,
	"response.output_item.done":              (*responsesProtocol).onItemDone,
	"response.output_text.delta":             (*responsesProtocol).onTextDelta,
	"response.function_call_arguments.delta": (*responsesProtocol).onArgsDelta,
	"response.function_call_arguments.done":  (*responsesProtocol).onArgsDone,
	"response.reasoning_summary_part.added":  (*responsesProtocol).onPartAdded,
	"response.reasoning_summary_text.delta":  (*responsesProtocol).onSummaryDelta,
	"response.reasoning_summary_text.done":   (*responsesProtocol).onSummaryDone,
	"response.reasoning_summary_part.done":   (*responsesProtocol).onPartDone,
	"response.mcp_call_arguments.delta":      (*responsesProtocol).onRemoteArgsDelta,
	"response.mcp_call_arguments.done":       (*responsesProtocol).onArgsDone,
	"response.mcp_call.failed":               (*responsesProtocol).onRemoteFailed,
	"response.completed":                     (*responsesProtocol).onCompleted,
	"response.incomplete":                    (*responsesProtocol).onIncomplete,
	"response.failed":                        (*responsesProtocol).onFailed,
	"error":                                  (*responsesProtocol).onError,
}

// responsesProtocol assembles a responses stream. Output items are tracked
// by item ID.
type responsesProtocol struct {
	items map[string]*outputItem
}

// outputItem is one output item of the response. seg is the index of its
// segment in the event, or -1 until the segment exists. callID is the key
// used for argument accumulation.
type outputItem struct {
	kind   string
	seg    int
	callID string
}

func (p *responsesProtocol) handle(s *stream, msg sse.Message) ([]relay.StreamEvent, error) {
	var ev responses.ResponseStreamEventUnion
	if err := json.Unmarshal([]byte(msg.Data), &ev); err != nil {
		return nil, err
	}
	h, ok := responsesHandlers[ev.Type]
	if !ok {
		return nil, nil
	}
	return h(p, s, &ev)
}

// eof never completes a responses stream: the terminal event is mandatory.
func (p *responsesProtocol) eof(*stream) []relay.StreamEvent { return nil }

func (p *responsesProtocol) item(id, kind string) (*outputItem, error) {
	it, ok := p.items[id]
	if !ok || it.kind != kind {
		return nil, fmt.Errorf("unknown %s item %q", kind, id)
	}
	return it, nil
}

func (p *responsesProtocol) onCreated(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	s.event.ResponseMetadata.ResponseID = ev.Response.ID
	s.event.ResponseMetadata.Model = ev.Response.Model
	return nil, nil
}

func (p *responsesProtocol) onItemAdded(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	item := ev.Item
	switch item.Type {
	case "message":
		p.items[item.ID] = &outputItem{kind: item.Type, seg: -1}
		return nil, nil
	case "function_call":
		it := &outputItem{kind: item.Type, seg: len(s.event.Segments), callID: item.CallID}
		p.items[item.ID] = it
		return s.apply(it.seg, relay.ToolCallSegment{ID: item.CallID, Name: item.Name}, relay.ChangeToolCallStart, "", 0)
	case "mcp_call":
		it := &outputItem{kind: item.Type, seg: len(s.event.Segments), callID: item.ID}
		p.items[item.ID] = it
		seg := relay.ToolCallSegment{ID: item.ID, Name: item.Name, ServerLabel: item.ServerLabel}
		return s.apply(it.seg, seg, relay.ChangeToolCallStart, "", 0)
	case "reasoning":
		it := &outputItem{kind: item.Type, seg: len(s.event.Segments)}
		p.items[item.ID] = it
		seg := relay.ReasoningSegment{
			ID:             item.ID,
			OutputIndex:    int(ev.OutputIndex),
			SequenceNumber: int(ev.SequenceNumber),
			Streaming:      true,
		}
		return s.apply(it.seg, seg, relay.ChangeReasoningStart, "", 0)
	default:
		return nil, nil
	}
}

func (p *responsesProtocol) onTextDelta(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	it, err := p.item(ev.ItemID, "message")
	if err != nil {
		return nil, err
	}
	delta := ev.Delta.OfString
	seg := relay.TextSegment{ID: ev.ItemID}
	if it.seg < 0 {
		it.seg = len(s.event.Segments)
	} else {
		seg = s.event.Segments[it.seg].(relay.TextSegment)
	}
	seg.Text += delta
	return s.apply(it.seg, seg, relay.ChangeTextDelta, delta, 0)
}

func (p *responsesProtocol) onArgsDelta(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	it, err := p.item(ev.ItemID, "function_call")
	if err != nil {
		return nil, err
	}
	args, ok := s.args.Append(it.callID, ev.Delta.OfString)
	if !ok {
		return nil, nil
	}
	return p.resolveArgs(s, it, args)
}

// onArgsDone handles the explicit arguments-complete signal of local and
// remote calls alike.
func (p *responsesProtocol) onArgsDone(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	it, ok := p.items[ev.ItemID]
	if !ok || (it.kind != "function_call" && it.kind != "mcp_call") {
		return nil, fmt.Errorf("unknown tool call item %q", ev.ItemID)
	}
	return p.completeArgs(s, it, ev.Arguments)
}

func (p *responsesProtocol) completeArgs(s *stream, it *outputItem, full string) ([]relay.StreamEvent, error) {
	args, emit, err := s.args.Complete(it.callID, full)
	if errors.Is(err, toolargs.ErrMalformed) {
		zerolog.Ctx(s.ctx).Warn().Str("provider", ResponsesName).Str("tool_id", it.callID).Msg("malformed tool arguments, using {}")
	}
	if !emit {
		return nil, nil
	}
	return p.resolveArgs(s, it, args)
}

func (p *responsesProtocol) resolveArgs(s *stream, it *outputItem, args json.RawMessage) ([]relay.StreamEvent, error) {
	seg := s.event.Segments[it.seg].(relay.ToolCallSegment)
	seg.Args = args
	return s.apply(it.seg, seg, relay.ChangeToolCallArgs, "", 0)
}

// onRemoteArgsDelta forwards argument fragments of a remote call as they
// arrive, followed by the resolved arguments once they parse.
func (p *responsesProtocol) onRemoteArgsDelta(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	it, err := p.item(ev.ItemID, "mcp_call")
	if err != nil {
		return nil, err
	}
	delta := ev.Delta.OfString
	seg := s.event.Segments[it.seg].(relay.ToolCallSegment)
	out, err := s.apply(it.seg, seg, relay.ChangeToolCallArgsDelta, delta, 0)
	if err != nil {
		return nil, err
	}
	args, ok := s.args.Append(it.callID, delta)
	if !ok {
		return out, nil
	}
	evts, err := p.resolveArgs(s, it, args)
	if err != nil {
		return nil, err
	}
	return append(out, evts...), nil
}

func (p *responsesProtocol) onRemoteFailed(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	it, err := p.item(ev.ItemID, "mcp_call")
	if err != nil {
		return nil, err
	}
	seg := s.event.Segments[it.seg].(relay.ToolCallSegment)
	if seg.Error == "" {
		seg.Error = "remote tool call failed"
	}
	return nil, s.event.ApplySegment(it.seg, seg)
}

func (p *responsesProtocol) reasoning(s *stream, itemID string) (*outputItem, relay.ReasoningSegment, error) {
	it, err := p.item(itemID, "reasoning")
	if err != nil {
		return nil, relay.ReasoningSegment{}, err
	}
	seg := s.event.Segments[it.seg].(relay.ReasoningSegment)
	// Earlier snapshots share the parts slice.
	seg.Parts = append([]relay.ReasoningPart(nil), seg.Parts...)
	return it, seg, nil
}

func (p *responsesProtocol) onPartAdded(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	it, seg, err := p.reasoning(s, ev.ItemID)
	if err != nil {
		return nil, err
	}
	idx := int(ev.SummaryIndex)
	if seg.Part(idx) == nil {
		seg.Parts = append(seg.Parts, relay.ReasoningPart{
			SummaryIndex:   idx,
			Type:           "summary_text",
			SequenceNumber: int(ev.SequenceNumber),
			CreatedAt:      time.Now().UTC(),
		})
	}
	return s.apply(it.seg, seg, relay.ChangeReasoningPart, "", idx)
}

func (p *responsesProtocol) onSummaryDelta(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	it, seg, err := p.reasoning(s, ev.ItemID)
	if err != nil {
		return nil, err
	}
	idx := int(ev.SummaryIndex)
	part := seg.Part(idx)
	if part == nil {
		seg.Parts = append(seg.Parts, relay.ReasoningPart{SummaryIndex: idx, Type: "summary_text", CreatedAt: time.Now().UTC()})
		part = &seg.Parts[len(seg.Parts)-1]
	}
	delta := ev.Delta.OfString
	part.Text += delta
	part.SequenceNumber = int(ev.SequenceNumber)
	return s.apply(it.seg, seg, relay.ChangeReasoningDelta, delta, idx)
}

// onSummaryDone replaces the accumulated text with the final text. Nothing
// is emitted; the part-done signal follows.
func (p *responsesProtocol) onSummaryDone(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	it, seg, err := p.reasoning(s, ev.ItemID)
	if err != nil {
		return nil, err
	}
	if part := seg.Part(int(ev.SummaryIndex)); part != nil && ev.Text != "" {
		part.Text = ev.Text
	}
	return nil, s.event.ApplySegment(it.seg, seg)
}

func (p *responsesProtocol) onPartDone(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	it, seg, err := p.reasoning(s, ev.ItemID)
	if err != nil {
		return nil, err
	}
	idx := int(ev.SummaryIndex)
	part := seg.Part(idx)
	if part == nil {
		return nil, fmt.Errorf("reasoning item %q: unknown summary part %d", ev.ItemID, idx)
	}
	part.IsComplete = true
	if ev.Part.Text != "" {
		part.Text = ev.Part.Text
	}
	return s.apply(it.seg, seg, relay.ChangeReasoningPartDone, "", idx)
}

func (p *responsesProtocol) onItemDone(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	item := ev.Item
	it, ok := p.items[item.ID]
	if !ok {
		return nil, nil
	}
	switch it.kind {
	case "reasoning":
		_, seg, err := p.reasoning(s, item.ID)
		if err != nil {
			return nil, err
		}
		seg.Streaming = false
		seg.CombinedText = seg.Text()
		return s.apply(it.seg, seg, relay.ChangeReasoningComplete, "", 0)
	case "message":
		return p.messageDone(s, it, item)
	case "function_call":
		return p.completeArgs(s, it, item.Arguments)
	case "mcp_call":
		out, err := p.completeArgs(s, it, item.Arguments)
		if err != nil {
			return nil, err
		}
		seg := s.event.Segments[it.seg].(relay.ToolCallSegment)
		if item.Output != "" {
			seg.Output = outputJSON(item.Output)
		}
		if item.Error != "" {
			seg.Error = item.Error
		}
		evts, err := s.apply(it.seg, seg, relay.ChangeToolCallOutput, "", 0)
		if err != nil {
			return nil, err
		}
		return append(out, evts...), nil
	default:
		return nil, nil
	}
}

// messageDone attaches citations to the message's text segment. A message
// whose text never streamed is emitted whole.
func (p *responsesProtocol) messageDone(s *stream, it *outputItem, item responses.ResponseOutputItemUnion) ([]relay.StreamEvent, error) {
	var (
		text      strings.Builder
		citations []relay.Citation
	)
	for _, c := range item.Content {
		text.WriteString(c.Text)
		for _, a := range c.Annotations {
			if a.Type != "url_citation" {
				continue
			}
			citations = append(citations, relay.Citation{
				URL:        a.URL,
				Title:      a.Title,
				StartIndex: int(a.StartIndex),
				EndIndex:   int(a.EndIndex),
			})
		}
	}
	if it.seg < 0 {
		if text.Len() == 0 {
			return nil, nil
		}
		it.seg = len(s.event.Segments)
		seg := relay.TextSegment{ID: item.ID, Text: text.String(), Citations: citations}
		return s.apply(it.seg, seg, relay.ChangeTextDelta, seg.Text, 0)
	}
	if len(citations) == 0 {
		return nil, nil
	}
	seg := s.event.Segments[it.seg].(relay.TextSegment)
	seg.Citations = citations
	return nil, s.event.ApplySegment(it.seg, seg)
}

func (p *responsesProtocol) onCompleted(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	p.setUsage(s, ev.Response)
	if s.hasLocalToolCalls() {
		return s.finish(relay.StopToolUse, string(ev.Response.Status)), nil
	}
	return s.finish(relay.StopEndTurn, string(ev.Response.Status)), nil
}

func (p *responsesProtocol) onIncomplete(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	p.setUsage(s, ev.Response)
	raw := ev.Response.IncompleteDetails.Reason
	if raw == "" {
		raw = string(ev.Response.Status)
	}
	return s.finish(relay.StopLength, raw), nil
}

func (p *responsesProtocol) onFailed(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	e := ev.Response.Error
	code := string(e.Code)
	msg := e.Message
	if msg == "" {
		msg = "response failed"
	}
	return nil, relay.NewProviderError(ResponsesName, failureStatus(code), msg, nil)
}

func (p *responsesProtocol) onError(s *stream, ev *responses.ResponseStreamEventUnion) ([]relay.StreamEvent, error) {
	return nil, relay.NewProviderError(ResponsesName, failureStatus(ev.Code), ev.Message, nil)
}

// failureStatus maps an in-stream failure code to a status, treating
// unrecognized codes as upstream failures.
func failureStatus(code string) int {
	if status := codeStatus(code); status != 0 {
		return status
	}
	return http.StatusInternalServerError
}

func (p *responsesProtocol) setUsage(s *stream, resp responses.Response) {
	if !resp.JSON.Usage.Valid() {
		return
	}
	u := resp.Usage
	cached := int(u.InputTokensDetails.CachedTokens)
	s.usage = &relay.Usage{
		InputTokens:     max(int(u.InputTokens)-cached, 0),
		OutputTokens:    int(u.OutputTokens),
		CacheReadTokens: cached,
		ReasoningTokens: int(u.OutputTokensDetails.ReasoningTokens),
	}
}
