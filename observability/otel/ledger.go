package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ApplySpanName names the span covering one ledger operation.
const ApplySpanName = "ledger.apply"

var (
	attrOp       = attribute.Key("ticket.op")
	attrTicketID = attribute.Key("ticket.id")
	attrHeight   = attribute.Key("ledger.height")
	attrResult   = attribute.Key("result")
)

// Meter returns the ledger meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(InstrumentationName)
}

// StartApply opens the span for op on ticketID.
func StartApply(ctx context.Context, tracer trace.Tracer, op string, ticketID uint64) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = Tracer()
	}
	return tracer.Start(ctx, ApplySpanName, trace.WithAttributes(
		attrOp.String(op),
		attrTicketID.Int64(int64(ticketID)),
	))
}

// FinishApply records the outcome on span and ends it. height is ignored when
// err is set.
func FinishApply(span trace.Span, height uint64, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attrHeight.Int64(int64(height)))
	}
	span.End()
}

// Instruments are the OTLP counterparts of the Prometheus ledger metrics.
type Instruments struct {
	operations metric.Int64Counter
	latency    metric.Float64Histogram
}

// NewInstruments registers the ledger instruments on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	if meter == nil {
		meter = Meter()
	}
	operations, err := meter.Int64Counter("ticketsale.ledger.operations",
		metric.WithDescription("Ledger operations by type and result."))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("ticketsale.ledger.operation.duration",
		metric.WithDescription("Ledger operation latency."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Instruments{operations: operations, latency: latency}, nil
}

// Record counts one operation. Nil receivers are ignored.
func (i *Instruments) Record(ctx context.Context, op string, err error, dur time.Duration) {
	if i == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	attrs := metric.WithAttributes(attrOp.String(op), attrResult.String(result))
	i.operations.Add(ctx, 1, attrs)
	i.latency.Record(ctx, dur.Seconds(), attrs)
}
