package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BookingMetrics exposes counters/histograms for the booking flow.
type BookingMetrics struct {
	outcomes      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	webhook       *prometheus.CounterVec
	checkFailures *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "outcomes_total",
			Help:      "Booking submissions by entry path and outcome",
		}, []string{"path", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "duration_seconds",
			Help:      "Time spent evaluating and persisting a booking",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
		webhook: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "webhook",
			Name:      "dispatch_total",
			Help:      "Notification webhook dispatches by event and result",
		}, []string{"event", "result"}),
		checkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "check_failures_total",
			Help:      "Infrastructure failures inside booking checks",
		}, []string{"check"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.outcomes, m.duration, m.webhook, m.checkFailures)
	return m
}

func (m *BookingMetrics) ObserveOutcome(path, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(path, outcome).Inc()
	m.duration.WithLabelValues(path).Observe(seconds)
}

func (m *BookingMetrics) ObserveWebhook(event, result string) {
	if m == nil {
		return
	}
	m.webhook.WithLabelValues(event, result).Inc()
}

func (m *BookingMetrics) ObserveCheckFailure(check string) {
	if m == nil {
		return
	}
	m.checkFailures.WithLabelValues(check).Inc()
}

// Handler serves the metrics gathered by g, or the default gatherer when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
