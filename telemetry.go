package isles

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry instruments an isle's incoming-packet dispatch with tracing
// and metrics, decorating the dispatch path as a layer rather than
// scattering instrumentation calls through the dispatch logic itself. A
// nil Telemetry (the Isle default) disables instrumentation with no
// runtime cost.
type Telemetry interface {
	StartDispatch(isleID string, p *Packet) DispatchSpan
}

// DispatchSpan is the in-flight handle returned by StartDispatch; End must
// be called exactly once, after the packet has been fully dispatched.
type DispatchSpan interface {
	End()
}

// otelTelemetry is the default Telemetry backed by go.opentelemetry.io/otel,
// using a single tracer/meter pair rather than one instance per component.
type otelTelemetry struct {
	tracer        trace.Tracer
	dispatchCount metric.Int64Counter
	errorCount    metric.Int64Counter
	duration      metric.Int64Histogram
}

// NewOTelTelemetry builds a Telemetry that records spans and counters under
// the instrumentation name "github.com/islehub/isles".
func NewOTelTelemetry() Telemetry {
	meter := otel.GetMeterProvider().Meter("github.com/islehub/isles")

	dispatchCount, _ := meter.Int64Counter("isles.dispatch.incoming")
	errorCount, _ := meter.Int64Counter("isles.dispatch.errors")
	duration, _ := meter.Int64Histogram("isles.dispatch.duration")

	return &otelTelemetry{
		tracer:        otel.GetTracerProvider().Tracer("github.com/islehub/isles"),
		dispatchCount: dispatchCount,
		errorCount:    errorCount,
		duration:      duration,
	}
}

type otelSpan struct {
	ctx     context.Context
	span    trace.Span
	started time.Time
	t       *otelTelemetry
	labels  []attribute.KeyValue
	pkt     *Packet
}

func (t *otelTelemetry) StartDispatch(isleID string, p *Packet) DispatchSpan {
	labels := []attribute.KeyValue{
		attribute.String("isle_id", isleID),
		attribute.String("packet_id", p.Identifier),
	}

	ctx, span := t.tracer.Start(context.Background(), "isle.dispatch", trace.WithAttributes(labels...))
	t.dispatchCount.Add(ctx, 1, metric.WithAttributes(labels...))

	return &otelSpan{ctx: ctx, span: span, started: time.Now(), t: t, labels: labels, pkt: p}
}

func (s *otelSpan) End() {
	if data, ok := s.pkt.DataMap(); ok {
		if _, failed := data["exception"]; failed {
			s.t.errorCount.Add(s.ctx, 1, metric.WithAttributes(s.labels...))
			s.span.AddEvent("error")
		}
	}

	s.t.duration.Record(s.ctx, time.Since(s.started).Milliseconds(), metric.WithAttributes(s.labels...))
	s.span.End()
}
