package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Invocation describes one finished tool call.
type Invocation struct {
	ID        string
	Tool      string
	Duration  time.Duration
	Success   bool
	ErrorKind string
}

// Observer receives one report per tool call.
type Observer interface {
	ObserveInvocation(ctx context.Context, inv Invocation)
}

// ToolObserver records tool invocations into OpenTelemetry.
type ToolObserver struct {
	tracer trace.Tracer

	invocations metric.Int64Counter
	latency     metric.Float64Histogram
}

// NewToolObserver creates an observer bound to the provided meter/tracer.
// tracer may be nil.
func NewToolObserver(meter metric.Meter, tracer trace.Tracer) (*ToolObserver, error) {
	invocations, err := meter.Int64Counter(
		"imagegen.tool.invocations",
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"imagegen.tool.latency",
		metric.WithDescription("Tool latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ToolObserver{
		tracer:      tracer,
		invocations: invocations,
		latency:     latency,
	}, nil
}

// ObserveInvocation records one invocation result.
func (o *ToolObserver) ObserveInvocation(ctx context.Context, inv Invocation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", inv.Tool),
		attribute.Bool("success", inv.Success),
	}
	if inv.ErrorKind != "" {
		attrs = append(attrs, attribute.String("error_kind", inv.ErrorKind))
	}

	options := metric.WithAttributes(attrs...)
	o.invocations.Add(ctx, 1, options)
	o.latency.Record(ctx, inv.Duration.Seconds(), options)

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "tool.invoke",
		trace.WithTimestamp(time.Now().Add(-inv.Duration)),
		trace.WithAttributes(append(attrs, attribute.String("invocation_id", inv.ID))...),
	)
	if !inv.Success {
		span.SetStatus(codes.Error, inv.ErrorKind)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

var _ Observer = (*ToolObserver)(nil)
