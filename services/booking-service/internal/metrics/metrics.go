package metrics

import (
	"net/http"
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Booking holds the booking-service collectors. It satisfies booking.Observer
// and notify.Observer.
type Booking struct {
	registry *prometheus.Registry

	attempts      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	slotsReturned prometheus.Histogram
	notifications *prometheus.CounterVec
}

func NewBooking() *Booking {
	reg := prometheus.NewRegistry()
	m := &Booking{
		registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barberdesk",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by intake channel and outcome.",
		}, []string{"channel", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "barberdesk",
			Subsystem: "booking",
			Name:      "attempt_duration_seconds",
			Help:      "Time spent in the booking transaction.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"channel"}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "barberdesk",
			Subsystem: "booking",
			Name:      "slots_returned",
			Help:      "Number of slots returned per availability query.",
			Buckets:   prometheus.LinearBuckets(0, 8, 8),
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barberdesk",
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "Booking notifications by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.attempts, m.latency, m.slotsReturned, m.notifications,
	)
	return m
}

func (m *Booking) BookingAttempt(channel model.Channel, outcome string, elapsed time.Duration) {
	m.attempts.WithLabelValues(string(channel), outcome).Inc()
	m.latency.WithLabelValues(string(channel)).Observe(elapsed.Seconds())
}

func (m *Booking) SlotsComputed(count int) {
	m.slotsReturned.Observe(float64(count))
}

// NotificationResult counts "published", "dropped" and "failed" notifications.
func (m *Booking) NotificationResult(result string) {
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Booking) Registry() *prometheus.Registry { return m.registry }

func (m *Booking) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
