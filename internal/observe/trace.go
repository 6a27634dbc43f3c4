package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the crossmix tracer.
const tracerName = "github.com/MrWong99/crossmix"

// Spans only cover control-side work. The audio callback is never traced.

// Tracer returns the crossmix tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartRender starts the span of an offline render of frames frames.
func StartRender(ctx context.Context, frames, sampleRate, channels int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "crossmix.render", trace.WithAttributes(
		attribute.Int("crossmix.frames", frames),
		attribute.Int("crossmix.sample_rate", sampleRate),
		attribute.Int("crossmix.channels", channels),
	))
}

// StartReload starts the span of a configuration reload being applied.
func StartReload(ctx context.Context, voiceChanges int, engineChanged bool) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "crossmix.reload", trace.WithAttributes(
		attribute.Int("crossmix.voice_changes", voiceChanges),
		attribute.Bool("crossmix.engine_changed", engineChanged),
	))
}

// End marks span as failed when err is non-nil and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// WithSpan returns log tagged with the trace and span IDs of the span in ctx,
// or log itself when ctx carries no span.
func WithSpan(ctx context.Context, log *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return log
	}
	return log.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}
