package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrStage      = "registration.stage"
	AttrLevel      = "registration.level"
	AttrShrink     = "registration.shrink"
	AttrSigma      = "registration.sigma"
	AttrIterations = "registration.iterations"
	AttrParameters = "registration.parameters"
	AttrMetric     = "registration.metric"
	AttrCaseID     = "pipeline.case_id"
	AttrStructure  = "pipeline.structure"
)

const instrumentation = "volreg"

// Start opens a span on the global tracer provider.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
