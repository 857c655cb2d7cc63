package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	requests           *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	errors             *prometheus.CounterVec
	ticketsCreated     *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	reorders           *prometheus.CounterVec
	deliveryAttempts   *prometheus.CounterVec
	deliveryOutcomes   *prometheus.CounterVec
	outboxClaimedBatch prometheus.Histogram
	outboxBacklog      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of HTTP error responses by error code",
		}, []string{"method", "route", "code"}),
		ticketsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickets_created_total",
			Help: "Total number of tickets created",
		}, []string{"module", "type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_transitions_total",
			Help: "Ticket transition requests by outcome",
		}, []string{"module", "to", "outcome"}),
		reorders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reorder_evaluations_total",
			Help: "Reorder evaluations by outcome",
		}, []string{"outcome"}),
		deliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "integration_delivery_attempts_total",
			Help: "Integration event delivery attempts",
		}, []string{"event_type"}),
		deliveryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "integration_delivery_outcomes_total",
			Help: "Integration events by final delivery outcome",
		}, []string{"event_type", "outcome"}),
		outboxClaimedBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "integration_outbox_claimed_batch_size",
			Help:    "Number of outbox records claimed per poll",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		outboxBacklog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "integration_outbox_backlog",
			Help: "Outbox records awaiting delivery (pending) or operator retry (failed)",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.requests,
			m.requestDuration,
			m.errors,
			m.ticketsCreated,
			m.transitions,
			m.reorders,
			m.deliveryAttempts,
			m.deliveryOutcomes,
			m.outboxClaimedBatch,
			m.outboxBacklog,
		)
	}
	return m
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, route, code).Inc()
}

// TicketCreated counts a committed ticket.
func (m *Metrics) TicketCreated(module, ticketType string) {
	if m == nil {
		return
	}
	m.ticketsCreated.WithLabelValues(module, ticketType).Inc()
}

// Transition counts a transition request; outcome is "accepted" or "rejected".
func (m *Metrics) Transition(module, to, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(module, to, outcome).Inc()
}

// Reorder counts a reorder evaluation outcome.
func (m *Metrics) Reorder(outcome string) {
	if m == nil {
		return
	}
	m.reorders.WithLabelValues(outcome).Inc()
}

// DeliveryAttempt counts one call into a sink.
func (m *Metrics) DeliveryAttempt(eventType string) {
	if m == nil {
		return
	}
	m.deliveryAttempts.WithLabelValues(eventType).Inc()
}

// DeliveryOutcome counts a terminal or released delivery result.
func (m *Metrics) DeliveryOutcome(eventType, outcome string) {
	if m == nil {
		return
	}
	m.deliveryOutcomes.WithLabelValues(eventType, outcome).Inc()
}

// OutboxClaimed records the size of a claimed batch.
func (m *Metrics) OutboxClaimed(n int) {
	if m == nil {
		return
	}
	m.outboxClaimedBatch.Observe(float64(n))
}

// OutboxBacklog sets the number of outbox records in state.
func (m *Metrics) OutboxBacklog(state string, n int) {
	if m == nil {
		return
	}
	m.outboxBacklog.WithLabelValues(state).Set(float64(n))
}
