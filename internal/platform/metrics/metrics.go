package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the slot allocator.
type BookingMetrics struct {
	bookingsTotal  *prometheus.CounterVec
	serialRetries  prometheus.Counter
	cancellations  prometheus.Counter
	bookingLatency prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "booking",
			Name:      "appointments_total",
			Help:      "Appointment creation attempts by outcome",
		}, []string{"method", "outcome"}),
		serialRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "booking",
			Name:      "serial_conflict_retries_total",
			Help:      "Serial number unique-index conflicts that triggered a retry",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "booking",
			Name:      "cancellations_total",
			Help:      "Appointments cancelled by patients",
		}),
		bookingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "booking",
			Name:      "allocation_seconds",
			Help:      "Time spent allocating a serial and writing the appointment",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.serialRetries, m.cancellations, m.bookingLatency)
	return m
}

// ObserveBooking records the outcome of one CreateAppointment call:
// "created", "invalid", "not_found", "conflict" or "error".
func (m *BookingMetrics) ObserveBooking(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(method, outcome).Inc()
	if outcome == "created" {
		m.bookingLatency.Observe(seconds)
	}
}

func (m *BookingMetrics) ObserveSerialRetry() {
	if m == nil {
		return
	}
	m.serialRetries.Inc()
}

func (m *BookingMetrics) ObserveCancellation() {
	if m == nil {
		return
	}
	m.cancellations.Inc()
}

// HTTPMetrics tracks request counts and latency per route.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

func (m *HTTPMetrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, status).Inc()
	m.latency.WithLabelValues(method, route).Observe(seconds)
}
