package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// QueryInfo describes one aggregate query for spans and logs.
type QueryInfo struct {
	Aggregate string // root entity name
	Operation string // find_all, find_by_id, find_all_by_id
	QueryID   string
	ArgCount  int
}

// QuerySpanAttributes builds canonical span attributes for an aggregate query.
func QuerySpanAttributes(info QueryInfo) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)

	if info.Aggregate != "" {
		attrs = append(attrs, attribute.String("aggload.aggregate", info.Aggregate))
	}
	if info.Operation != "" {
		attrs = append(attrs, attribute.String("aggload.operation", info.Operation))
	}
	if info.QueryID != "" {
		attrs = append(attrs, attribute.String("aggload.query_id", info.QueryID))
	}
	attrs = append(attrs, attribute.Int("aggload.arg_count", info.ArgCount))

	return attrs
}

// QueryLogFields builds canonical structured log fields for an aggregate query.
func QueryLogFields(ctx context.Context, info QueryInfo) []any {
	fields := make([]any, 0, 4)

	if info.Aggregate != "" {
		fields = append(fields, slog.String("aggregate", info.Aggregate))
	}
	if info.Operation != "" {
		fields = append(fields, slog.String("operation", info.Operation))
	}
	if info.QueryID != "" {
		fields = append(fields, slog.String("query_id", info.QueryID))
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		fields = append(fields, slog.String("trace_id", spanCtx.TraceID().String()))
	}

	return fields
}
