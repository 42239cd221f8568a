package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type (
	// OtelTracer delegates to the global OpenTelemetry TracerProvider.
	OtelTracer struct {
		tracer trace.Tracer
	}

	// OtelMetrics delegates to the global OpenTelemetry MeterProvider.
	OtelMetrics struct {
		meter metric.Meter
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewOtelTracer constructs a Tracer backed by the named OTEL tracer.
// Configure the global TracerProvider separately (OTLP exporter, resource
// attributes) before invoking runtime methods.
func NewOtelTracer(name string) Tracer {
	return OtelTracer{tracer: otel.Tracer(name)}
}

// NewOtelMetrics constructs a Metrics recorder backed by the named OTEL meter.
func NewOtelMetrics(name string) Metrics {
	return OtelMetrics{meter: otel.Meter(name)}
}

// Start begins a span and returns the derived context alongside the Span handle.
func (t OtelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, otelSpan{span: span}
}

func (s otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s otelSpan) AddEvent(name string, keyvals ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttributes(keyvals)...))
}

func (s otelSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }

func (s otelSpan) RecordError(err error, opts ...trace.EventOption) { s.span.RecordError(err, opts...) }

func (m OtelMetrics) IncCounter(name string, value float64, labels ...string) {
	c, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), value, metric.WithAttributes(labelsToAttributes(labels)...))
}

func (m OtelMetrics) RecordTimer(name string, d time.Duration, labels ...string) {
	h, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	h.Record(context.Background(), d.Seconds(), metric.WithAttributes(labelsToAttributes(labels)...))
}

func (m OtelMetrics) RecordGauge(name string, value float64, labels ...string) {
	g, err := m.meter.Float64Gauge(name)
	if err != nil {
		return
	}
	g.Record(context.Background(), value, metric.WithAttributes(labelsToAttributes(labels)...))
}

func kvToAttributes(keyvals []any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		out = append(out, attribute.String(key, fmt.Sprintf("%v", keyvals[i+1])))
	}
	return out
}

func labelsToAttributes(labels []string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		out = append(out, attribute.String(labels[i], labels[i+1]))
	}
	return out
}
