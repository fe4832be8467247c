// Package prom records sqlqueue metrics with the Prometheus client.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/velmie/sqlqueue"
)

const recipientLabel = "recipient"

// Metrics implements sqlqueue.Metrics with counters, gauges and a histogram labelled by recipient.
type Metrics struct {
	sent           *prometheus.CounterVec
	received       *prometheus.CounterVec
	expired        *prometheus.CounterVec
	errors         *prometheus.CounterVec
	receiveSeconds *prometheus.HistogramVec
	inFlight       *prometheus.GaugeVec
	pending        *prometheus.GaugeVec
}

var _ sqlqueue.Metrics = (*Metrics)(nil)

// New registers the collectors on reg. A nil reg uses prometheus.DefaultRegisterer.
// Registering twice on the same registry panics.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := []string{recipientLabel}

	return &Metrics{
		sent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages inserted into the queue table.",
		}, labels),
		received: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages claimed by receivers.",
		}, labels),
		expired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_expired_total",
			Help:      "Total number of expired messages removed by the sweeper.",
		}, labels),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_errors_total",
			Help:      "Total number of failed receives and handler errors.",
		}, labels),
		receiveSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "receive_duration_seconds",
			Help:      "Time spent in a single receive, including throttle wait.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "receives_in_flight",
			Help:      "Receives currently holding a throttle slot.",
		}, labels),
		pending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "messages_pending",
			Help:      "Visible messages waiting for the recipient.",
		}, labels),
	}
}

// AddSent implements sqlqueue.Metrics.
func (m *Metrics) AddSent(recipient string, count int) {
	m.sent.WithLabelValues(recipient).Add(float64(count))
}

// AddReceived implements sqlqueue.Metrics.
func (m *Metrics) AddReceived(recipient string, count int) {
	m.received.WithLabelValues(recipient).Add(float64(count))
}

// AddExpired implements sqlqueue.Metrics.
func (m *Metrics) AddExpired(recipient string, count int) {
	m.expired.WithLabelValues(recipient).Add(float64(count))
}

// AddErrors implements sqlqueue.Metrics.
func (m *Metrics) AddErrors(recipient string, count int) {
	m.errors.WithLabelValues(recipient).Add(float64(count))
}

// ObserveReceiveDuration implements sqlqueue.Metrics.
func (m *Metrics) ObserveReceiveDuration(recipient string, duration time.Duration) {
	m.receiveSeconds.WithLabelValues(recipient).Observe(duration.Seconds())
}

// SetInFlight implements sqlqueue.Metrics.
func (m *Metrics) SetInFlight(recipient string, count int) {
	m.inFlight.WithLabelValues(recipient).Set(float64(count))
}

// SetPending implements sqlqueue.Metrics.
func (m *Metrics) SetPending(recipient string, count int) {
	m.pending.WithLabelValues(recipient).Set(float64(count))
}
