package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for the inboxdigest module.
const TracerName = "github.com/teemow/inboxdigest"

// Span attribute keys.
const (
	SpanAttrTool      = "mcp.tool"
	SpanAttrService   = "google.service"
	SpanAttrOperation = "google.operation"

	// SpanAttrEmailID is the Gmail message ID being processed.
	SpanAttrEmailID = "gmail.message_id"

	// SpanAttrBatchSize is the number of message IDs in a batch request.
	SpanAttrBatchSize = "digest.batch_size"

	// SpanAttrModel is the generative model used for a summary.
	SpanAttrModel = "gemini.model"
)

// EmailIDAttr returns the span attribute for a Gmail message ID.
func EmailIDAttr(id string) attribute.KeyValue {
	return attribute.String(SpanAttrEmailID, id)
}

// StartSpan starts a new span with the given name and attributes.
// The caller is responsible for ending the span with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartToolSpan starts a server span for an MCP tool invocation.
func StartToolSpan(ctx context.Context, toolName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attribute.String(SpanAttrTool, toolName))
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "tool."+toolName,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartGoogleAPISpan starts a client span for an upstream Google call
// (Gmail, Gemini or userinfo).
func StartGoogleAPISpan(ctx context.Context, service, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs,
		attribute.String(SpanAttrService, service),
		attribute.String(SpanAttrOperation, operation),
	)
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "google."+service+"."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds an event to the span with optional attributes.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the current span in context,
// or "" if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the current span in context,
// or "" if no valid span is present.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}

// ModelAttr returns the span attribute for the generative model name.
func ModelAttr(model string) attribute.KeyValue {
	return attribute.String(SpanAttrModel, model)
}

// BatchSizeAttr returns the span attribute for the number of IDs in a batch.
func BatchSizeAttr(n int) attribute.KeyValue {
	return attribute.Int(SpanAttrBatchSize, n)
}
