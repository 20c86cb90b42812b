package intake

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used for spans
const TracerName = "github.com/goliatone/go-intake"

func defTracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// endSpan records err on the span, if any, and ends it
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
