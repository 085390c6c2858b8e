package adapter

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/hostsys/pkg/hostsys"
)

// OTelObserver records memory events as OpenTelemetry metrics and spans.
type OTelObserver struct {
	tracer   trace.Tracer
	ops      metric.Int64Counter
	duration metric.Float64Histogram
	mapped   metric.Int64UpDownCounter
}

// NewOTelObserver creates the instruments on meter. A nil tracer disables spans.
func NewOTelObserver(meter metric.Meter, tracer trace.Tracer) (*OTelObserver, error) {
	ops, err := meter.Int64Counter("hostsys.memory.operations",
		metric.WithDescription("Memory operations by kind and result."))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("hostsys.memory.operation.duration",
		metric.WithDescription("Time spent in the kernel per memory operation."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	mapped, err := meter.Int64UpDownCounter("hostsys.memory.mapped",
		metric.WithDescription("Bytes currently mapped, by kind."),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	return &OTelObserver{tracer: tracer, ops: ops, duration: duration, mapped: mapped}, nil
}

// Observe implements hostsys.Observer.
func (o *OTelObserver) Observe(e hostsys.Event) {
	ctx := context.Background()
	opAttr := attribute.String("op", string(e.Op))
	result := "ok"
	if e.Err != nil {
		result = "error"
	}
	o.ops.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("result", result)))
	o.duration.Record(ctx, e.Duration.Seconds(), metric.WithAttributes(opAttr))
	if kind, sign := mappedDelta(e.Op); kind != "" && e.Err == nil {
		o.mapped.Add(ctx, int64(sign)*int64(e.Size), metric.WithAttributes(attribute.String("kind", kind)))
	}

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "hostsys."+string(e.Op),
		trace.WithTimestamp(e.Start),
		trace.WithAttributes(
			opAttr,
			attribute.Int64("size", int64(e.Size)),
			attribute.String("mode", e.Mode.String()),
		))
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Err.Error())
	}
	span.End(trace.WithTimestamp(e.Start.Add(e.Duration)))
}

// Chain fans events out to several observers in order.
func Chain(observers ...hostsys.Observer) hostsys.Observer {
	return hostsys.ObserverFunc(func(e hostsys.Event) {
		for _, o := range observers {
			o.Observe(e)
		}
	})
}
