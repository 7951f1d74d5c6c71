package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ticketsale/native/tickets"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// TicketMetrics tracks ledger activity as seen by the node.
type TicketMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	events     *prometheus.CounterVec
	refunded   prometheus.Counter
	height     prometheus.Gauge
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ticketMetricsOnce sync.Once
	ticketRegistry    *TicketMetrics
)

// ModuleMetrics returns the lazily-initialised metrics registry used to record
// JSON-RPC activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketsale",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketsale",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ticketsale",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketsale",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a JSON-RPC request. code is the JSON-RPC
// error code, or zero on success.
func (m *moduleMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// Tickets returns the lazily-initialised ledger metrics registry.
func Tickets() *TicketMetrics {
	ticketMetricsOnce.Do(func() {
		ticketRegistry = &TicketMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketsale",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by type and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ticketsale",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Time spent applying a ledger operation including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ticketsale",
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "Committed ledger events segmented by type.",
			}, []string{"type"}),
			refunded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ticketsale",
				Subsystem: "ledger",
				Name:      "refunds_total",
				Help:      "Number of tickets returned for a refund.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "ticketsale",
				Subsystem: "ledger",
				Name:      "height",
				Help:      "Height of the last committed ledger state.",
			}),
		}
		prometheus.MustRegister(
			ticketRegistry.operations,
			ticketRegistry.latency,
			ticketRegistry.events,
			ticketRegistry.refunded,
			ticketRegistry.height,
		)
	})
	return ticketRegistry
}

// ObserveOperation records an applied or rejected ledger operation.
func (m *TicketMetrics) ObserveOperation(op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	outcome := "committed"
	if err != nil {
		outcome = "rejected"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordEvent counts a committed ledger event.
func (m *TicketMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
	if eventType == tickets.EventTypeTicketReturned {
		m.refunded.Inc()
	}
}

// SetHeight publishes the committed height.
func (m *TicketMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}
