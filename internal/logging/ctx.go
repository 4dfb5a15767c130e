package logging

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// FromContext returns a zerolog.Logger enriched with trace_id/span_id pulled
// from ctx, when a sampled span is present.
func FromContext(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return &l
	}
	l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
	if sc.HasSpanID() {
		l = l.With().Str("span_id", sc.SpanID().String()).Logger()
	}
	return &l
}
