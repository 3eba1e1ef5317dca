// Package telemetry abstracts logging, metrics, and tracing so the rest of
// this module stays free of any particular observability vendor. agent.New
// and context.New fall back to NoopLogger when given a nil Logger, matching
// the convention used throughout the runtime this module is adapted from;
// no other package takes a Metrics or Tracer. Bundle.Resolved fills nil
// Logger/Metrics/Tracer fields with the no-op implementations here.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the structured, leveled logging surface used across this module.
// Keyvals alternate key/value pairs, e.g. Info(ctx, "run started", "runID", id).
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes the counter/timer/gauge primitives runtime code emits.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation over an OpenTelemetry-shaped API so callers
// never import a concrete provider directly.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span represents an in-flight trace span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// ToolTelemetry is a shape for observability metadata about a single tool
// call. The Tool Executor does not create or attach one.
type ToolTelemetry struct {
	DurationMs int64
	TokensUsed int
	Model      string
	Extra      map[string]any
}

// Bundle groups the three observability collaborators so constructors can
// take a single optional parameter instead of three. A zero-value Bundle
// resolves to the no-op implementations via Resolved.
type Bundle struct {
	Logger  Logger
	Metrics Metrics
	Tracer  Tracer
}

// Resolved fills any nil field of b with its no-op implementation.
func (b Bundle) Resolved() Bundle {
	if b.Logger == nil {
		b.Logger = NoopLogger{}
	}
	if b.Metrics == nil {
		b.Metrics = NoopMetrics{}
	}
	if b.Tracer == nil {
		b.Tracer = NoopTracer{}
	}
	return b
}
