package metrics

import (
	"context"
	"time"

	"github.com/alecthomas/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OperationMetrics provides a generic way to record any operation's metrics
// without needing to create separate structs for each operation type. Call
// RecordOperation with the operation name, duration, and custom attributes.
type OperationMetrics struct {
	duration metric.Float64Histogram
	count    metric.Int64Counter
}

// NewOperationMetrics creates a generic operation metrics recorder.
func NewOperationMetrics() (*OperationMetrics, error) {
	meter := otel.Meter("cratemirrord")

	duration, err := meter.Float64Histogram(
		"cratemirror.operation.duration",
		metric.WithDescription("Duration of cratemirror operations (registry cycle, crate download, serving request)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Errorf("failed to create duration histogram: %w", err)
	}

	count, err := meter.Int64Counter(
		"cratemirror.operation.count",
		metric.WithDescription("Count of cratemirror operations by type and result"),
	)
	if err != nil {
		return nil, errors.Errorf("failed to create count counter: %w", err)
	}

	return &OperationMetrics{
		duration: duration,
		count:    count,
	}, nil
}

// RecordOperation records any operation with custom attributes.
//
// Examples:
//
//	ops.RecordOperation(ctx, "registry.merge", "success", mergeDuration,
//	    attribute.String("action", "fast_forward"))
//
//	ops.RecordOperation(ctx, "crate.download", "failure", downloadDuration,
//	    attribute.String("name", name), attribute.String("version", version))
func (m *OperationMetrics) RecordOperation(ctx context.Context, operation, result string, duration time.Duration, customAttrs ...attribute.KeyValue) {
	if m == nil {
		return
	}

	allAttrs := append([]attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}, customAttrs...)

	m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(allAttrs...))
	m.count.Add(ctx, 1, metric.WithAttributes(allAttrs...))
}

// RecordCount records a count metric without duration. Useful for
// "crates enumerated this cycle" or "downloads enqueued" style tallies.
func (m *OperationMetrics) RecordCount(ctx context.Context, operation string, value int64, customAttrs ...attribute.KeyValue) {
	if m == nil {
		return
	}

	allAttrs := append([]attribute.KeyValue{
		attribute.String("operation", operation),
	}, customAttrs...)

	m.count.Add(ctx, value, metric.WithAttributes(allAttrs...))
}

type contextKey struct{}

// ContextWithOperations adds OperationMetrics to the context.
func ContextWithOperations(ctx context.Context, ops *OperationMetrics) context.Context {
	return context.WithValue(ctx, contextKey{}, ops)
}

// FromContext extracts OperationMetrics from the context. Returns nil if not found,
// in which case RecordOperation/RecordCount are safe no-ops.
func FromContext(ctx context.Context) *OperationMetrics {
	ops, _ := ctx.Value(contextKey{}).(*OperationMetrics)
	return ops
}
