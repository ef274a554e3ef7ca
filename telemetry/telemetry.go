// Package telemetry wires OpenTelemetry tracing and metrics for relay.
package telemetry

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fwojciec/relay"

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(ctx context.Context) error

// Setup installs global trace and meter providers exporting over OTLP gRPC
// to endpoint. An empty endpoint leaves the no-op globals in place.
func Setup(ctx context.Context, endpoint string) (ShutdownFunc, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	traceExp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	metricExp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// StartRunSpan starts a span covering one conversation turn.
func StartRunSpan(ctx context.Context, conversationID, adapter string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("adapter", adapter),
		),
	)
}

// StartToolCallSpan starts a span for one tool call within a run.
func StartToolCallSpan(ctx context.Context, callID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.id", callID),
			attribute.String("toolcall.tool", tool),
		),
	)
}

// Metrics holds the loop's metric instruments.
type Metrics struct {
	Iterations      metric.Int64Counter
	ToolCalls       metric.Int64Counter
	PersistFailures metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	m.Iterations, err = meter.Int64Counter("relay.loop.iterations",
		metric.WithDescription("Number of orchestration loop iterations"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("relay.toolcalls",
		metric.WithDescription("Number of locally executed tool calls"))
	if err != nil {
		return nil, err
	}

	m.PersistFailures, err = meter.Int64Counter("relay.persist.failures",
		metric.WithDescription("Number of failed event appends"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Iteration counts one loop iteration. A nil Metrics records nothing.
func (m *Metrics) Iteration(ctx context.Context, adapter string) {
	if m == nil {
		return
	}
	m.Iterations.Add(ctx, 1, metric.WithAttributes(attribute.String("adapter", adapter)))
}

// ToolCall counts one executed tool call.
func (m *Metrics) ToolCall(ctx context.Context, tool string, failed bool) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("failed", failed),
	))
}

// PersistFailure counts one failed append.
func (m *Metrics) PersistFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.PersistFailures.Add(ctx, 1)
}

// HTTPMiddleware returns a chi-compatible middleware that creates spans for
// HTTP requests.
func HTTPMiddleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, service)
	}
}
