// Package observability exposes the tracker's Prometheus metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	stateTransitions  *prometheus.CounterVec
	motionSegments    *prometheus.CounterVec
	motionDuration    prometheus.Histogram
	positionDegrees   prometheus.Gauge
	encoderTicks      prometheus.Gauge
	persistWrites     prometheus.Counter
	telemetryErrors   prometheus.Counter
	faultBeacons      prometheus.Counter
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewMetrics constructs and registers the tracker metrics on the
// default registry.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

// newMetrics registers on the provided registerer. It is used in tests.
func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_state_transitions_total",
			Help: "Total count of controller state transitions by edge.",
		}, []string{"from", "to"}),
		motionSegments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_motion_segments_total",
			Help: "Total count of completed motion segments by mode.",
		}, []string{"mode"}),
		motionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_motion_duration_seconds",
			Help:    "Histogram of motion segment durations.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		positionDegrees: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_position_degrees",
			Help: "Current panel azimuth in degrees.",
		}),
		encoderTicks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_encoder_ticks",
			Help: "Current encoder tick count relative to home.",
		}),
		persistWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_persist_writes_total",
			Help: "Total snapshot writes to the position store.",
		}),
		telemetryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_telemetry_errors_total",
			Help: "Total telemetry publishes that failed.",
		}),
		faultBeacons: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_fault_beacons_total",
			Help: "Total fault beacons sent while in the fault state.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.stateTransitions,
		m.motionSegments,
		m.motionDuration,
		m.positionDegrees,
		m.encoderTicks,
		m.persistWrites,
		m.telemetryErrors,
		m.faultBeacons,
		m.httpRequestsTotal,
		m.httpDuration,
	)

	return m
}

// StateTransition records one edge of the controller state machine.
func (m *Metrics) StateTransition(from, to string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(from, to).Inc()
}

// MotionSegment records a completed segment and its duration. mode is
// "L1", "L2" or "homing".
func (m *Metrics) MotionSegment(mode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.motionSegments.WithLabelValues(mode).Inc()
	m.motionDuration.Observe(duration.Seconds())
}

// SetPosition records the current panel position.
func (m *Metrics) SetPosition(deg float64, ticks int64) {
	if m == nil {
		return
	}
	m.positionDegrees.Set(deg)
	m.encoderTicks.Set(float64(ticks))
}

// PersistWrite records a snapshot write.
func (m *Metrics) PersistWrite() {
	if m == nil {
		return
	}
	m.persistWrites.Inc()
}

// TelemetryError records a failed publish.
func (m *Metrics) TelemetryError() {
	if m == nil {
		return
	}
	m.telemetryErrors.Inc()
}

// FaultBeacon records one fault beacon.
func (m *Metrics) FaultBeacon() {
	if m == nil {
		return
	}
	m.faultBeacons.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and measures durations for a route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(duration)
		}
	})
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
