// Package agent drives one conversation turn between an Adapter and a
// ToolExecutor until the model stops requesting tools.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/telemetry"
)

// DefaultMaxIterations is the iteration budget of a turn.
const DefaultMaxIterations = 5

// Loop orchestrates turns. A Loop holds no per-turn state and may run
// turns concurrently.
type Loop struct {
	executor      relay.ToolExecutor
	appender      relay.Appender
	metrics       *telemetry.Metrics
	maxIterations int
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxIterations sets the iteration budget. Values below one are ignored.
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithAppender persists finalized events through a.
func WithAppender(a relay.Appender) Option {
	return func(l *Loop) { l.appender = a }
}

// WithMetrics records loop counters on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// New creates a Loop executing tool calls with executor.
func New(executor relay.ToolExecutor, opts ...Option) *Loop {
	l := &Loop{executor: executor, maxIterations: DefaultMaxIterations}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Turn is the input of one Run.
type Turn struct {
	ConversationID string
	Adapter        relay.Adapter

	// History holds the stored events in key order; empty for a new
	// conversation. TailKey is the key of its last event.
	History []relay.Event
	TailKey string

	// Input is the new user event. A zero Input resumes the history as is.
	Input relay.Event

	// Request carries model, system prompt, tools and generation settings.
	// Its Events are replaced with the log before every provider call.
	Request relay.Request
}

// Result describes a finished turn.
type Result struct {
	// Events holds the events produced by the turn, Input included.
	Events     []relay.Event
	Usage      relay.Usage
	Iterations int
	// Exhausted is set when the turn stopped on the iteration budget.
	Exhausted bool
	// TailKey is the key of the last persisted event.
	TailKey string
}

// RunOption configures a single Run invocation.
type RunOption func(*runConfig)

type runConfig struct {
	onEvent func(relay.StreamEvent)
}

// WithEventHandler sets a callback that receives every stream event of the
// run, tool results included. If nil or not set, events are discarded.
func WithEventHandler(h func(relay.StreamEvent)) RunOption {
	return func(c *runConfig) {
		c.onEvent = h
	}
}

// Run drives turn to completion. A stream error aborts the turn: it is
// forwarded once as StreamEventError and returned. Tool and persistence
// failures never abort it.
func (l *Loop) Run(ctx context.Context, turn Turn, opts ...RunOption) (*Result, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if turn.Adapter == nil {
		return nil, fmt.Errorf("agent: no adapter: %w", relay.ErrValidation)
	}

	ctx, span := telemetry.StartRunSpan(ctx, turn.ConversationID, turn.Adapter.Name())
	defer span.End()

	r := &run{
		loop: l,
		turn: turn,
		cfg:  &cfg,
		log:  relay.NewEventLog(turn.History...),
		persist: &persister{
			appender:       l.appender,
			metrics:        l.metrics,
			conversationID: turn.ConversationID,
			tail:           turn.TailKey,
			batch:          len(turn.History) == 0,
		},
	}
	res, err := r.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

type run struct {
	loop    *Loop
	turn    Turn
	cfg     *runConfig
	log     *relay.EventLog
	persist *persister
	usage   relay.Usage
}

func (r *run) run(ctx context.Context) (*Result, error) {
	logger := zerolog.Ctx(ctx)
	res := &Result{}
	finish := func() *Result {
		r.persist.flush(ctx)
		res.Events = r.log.Events()[len(r.turn.History):]
		res.Usage = r.usage
		res.TailKey = r.persist.tail
		return res
	}

	report := r.turn.Adapter.ValidateConfig(r.request())
	if !report.Valid {
		return nil, fmt.Errorf("agent: %s: %w", strings.Join(report.Errors, "; "), relay.ErrValidation)
	}
	for _, w := range report.Warnings {
		logger.Warn().Str("adapter", r.turn.Adapter.Name()).Msg(w)
	}

	if r.turn.Input.ID != "" {
		if err := r.log.Append(r.turn.Input); err != nil {
			return nil, fmt.Errorf("agent: input: %w", err)
		}
		r.persist.commit(ctx, r.turn.Input)
	}

	for res.Iterations < r.loop.maxIterations {
		if err := ctx.Err(); err != nil {
			return finish(), err
		}
		res.Iterations++
		r.loop.metrics.Iteration(ctx, r.turn.Adapter.Name())

		if calls := r.log.UnresolvedToolCalls(); len(calls) > 0 {
			logger.Debug().Int("iteration", res.Iterations).Int("calls", len(calls)).Msg("executing tool calls")
			r.executeTools(ctx, calls)
			continue
		}

		logger.Debug().Int("iteration", res.Iterations).Msg("streaming response")
		if err := r.stream(ctx); err != nil {
			return finish(), err
		}
		if relay.IsSelfExecuting(r.turn.Adapter) || len(r.log.UnresolvedToolCalls()) == 0 {
			return finish(), nil
		}
	}

	res.Exhausted = true
	logger.Warn().Int("iterations", res.Iterations).Msg("iteration budget exhausted")
	return finish(), nil
}

func (r *run) request() relay.Request {
	req := r.turn.Request
	req.Events = r.log.Events()
	return req
}

func (r *run) forward(evt relay.StreamEvent) {
	if r.cfg.onEvent != nil {
		r.cfg.onEvent(evt)
	}
}

// stream runs one provider call, applying segments to the log as they
// arrive and committing the finalized assistant event.
func (r *run) stream(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	stream, err := r.turn.Adapter.Stream(ctx, r.request())
	if err != nil {
		r.forward(relay.StreamEventError{Err: err})
		return err
	}
	defer stream.Close()

	var (
		open     string
		finished bool
	)
	for {
		evt, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if open != "" {
				r.sealPartial(ctx, stream)
			}
			r.forward(relay.StreamEventError{Err: err})
			return err
		}

		switch e := evt.(type) {
		case relay.StreamEventStart:
			if err := r.log.Open(e.Event); err != nil {
				logger.Warn().Err(err).Str("event_id", e.Event.ID).Msg("open event")
			} else {
				open = e.Event.ID
			}
		case relay.StreamEventSegment:
			if err := r.log.ApplySegment(e.EventID, e.Index, e.Segment); err != nil {
				logger.Warn().Err(err).Str("event_id", e.EventID).Int("index", e.Index).Msg("apply segment")
			}
		case relay.StreamEventDone:
			if finished {
				continue
			}
			r.finalize(ctx, open, e.Event)
			if e.Usage != nil {
				r.usage.Add(*e.Usage)
			}
			open, finished = "", true
		}
		r.forward(evt)
	}

	if !finished && open != "" {
		final, err := stream.Event()
		if err != nil {
			return err
		}
		r.finalize(ctx, open, final)
	}
	return nil
}

// finalize seals the streamed event, or appends it when the stream never
// opened one, and commits it.
func (r *run) finalize(ctx context.Context, open string, final relay.Event) {
	var err error
	if open == final.ID {
		err = r.log.Seal(final)
	} else {
		err = r.log.Append(final)
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event_id", final.ID).Msg("finalize event")
		return
	}
	r.persist.commit(ctx, final)
}

// sealPartial keeps the partial event in the log without persisting it.
func (r *run) sealPartial(ctx context.Context, stream relay.Stream) {
	partial, err := stream.Event()
	if err != nil {
		return
	}
	if err := r.log.Seal(partial); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event_id", partial.ID).Msg("seal partial event")
	}
}

// executeTools runs one batch and appends one tool event per call, in call
// order. Execution is detached from ctx cancellation so tool side effects
// finish once started.
func (r *run) executeTools(ctx context.Context, calls []relay.ToolCallSegment) {
	ctx = context.WithoutCancel(ctx)
	logger := zerolog.Ctx(ctx)

	spans := make([]func(error), len(calls))
	for i, c := range calls {
		_, span := telemetry.StartToolCallSpan(ctx, c.ID, c.Name)
		spans[i] = func(err error) {
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}
	}

	results, err := r.loop.executor.Execute(ctx, calls)
	if err != nil {
		logger.Error().Err(err).Int("calls", len(calls)).Msg("tool executor failed")
	}

	byID := make(map[string]relay.ToolResultSegment, len(results))
	for _, res := range results {
		byID[res.ID] = res
	}
	for i, c := range calls {
		res, ok := byID[c.ID]
		switch {
		case err != nil:
			res = relay.FailedResult(c.ID, err)
		case !ok:
			res = relay.FailedResult(c.ID, errors.New("tool returned no result"))
		}

		var callErr error
		if res.Error != "" {
			callErr = errors.New(res.Error)
			logger.Warn().Str("tool", c.Name).Str("call_id", c.ID).Str("error", res.Error).Msg("tool call failed")
		}
		spans[i](callErr)
		r.loop.metrics.ToolCall(ctx, c.Name, callErr != nil)

		e := relay.ToolResultEvent(res)
		if err := r.log.Append(e); err != nil {
			logger.Warn().Err(err).Str("call_id", c.ID).Msg("append tool result")
			continue
		}
		r.persist.commit(ctx, e)
		r.forward(relay.StreamEventSegment{
			EventID: e.ID,
			Index:   0,
			Segment: res,
			Change:  relay.ChangeToolResult,
		})
	}
}

// persister commits finalized events. New conversations are buffered and
// written as one batch at the end of the turn; continuing conversations
// append each event after the stored tail as soon as it is final.
type persister struct {
	appender       relay.Appender
	metrics        *telemetry.Metrics
	conversationID string
	tail           string
	batch          bool
	pending        []relay.Event
}

func (p *persister) commit(ctx context.Context, e relay.Event) {
	if p.appender == nil {
		return
	}
	if p.batch {
		p.pending = append(p.pending, e)
		return
	}
	p.append(ctx, []relay.Event{e})
}

func (p *persister) flush(ctx context.Context) {
	if len(p.pending) == 0 {
		return
	}
	p.append(ctx, p.pending)
	p.pending = nil
}

func (p *persister) append(ctx context.Context, events []relay.Event) {
	ctx = context.WithoutCancel(ctx)
	tail, err := p.appender.Append(ctx, events, p.conversationID, p.tail)
	if err != nil {
		p.metrics.PersistFailure(ctx)
		zerolog.Ctx(ctx).Error().Err(err).
			Str("conversation_id", p.conversationID).
			Int("events", len(events)).
			Msg("persist events")
		return
	}
	p.tail = tail
}
