// Package metrics collects scan counters in a private Prometheus registry.
// Nothing is served over the network; the registry is dumped to a textfile at the end of a
// scan for node_exporter style collection.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roomkangali/kalki/internal/finding"
)

// Request outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRetry    = "retry"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
)

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	findingsTotal   *prometheus.CounterVec
	pointsTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	phaseDuration   *prometheus.GaugeVec
}

// New registers every collector on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kalki_requests_total",
			Help: "HTTP requests sent to the target, by outcome",
		},
		[]string{"outcome"},
	)
	m.findingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kalki_findings_total",
			Help: "Findings emitted, by category and severity",
		},
		[]string{"detector", "category", "severity"},
	)
	m.pointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kalki_points_total",
			Help: "Injection points probed, by scanner and verdict",
		},
		[]string{"scanner", "verdict"},
	)
	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kalki_request_duration_seconds",
			Help:    "Response time distribution in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"outcome"},
	)
	m.phaseDuration = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kalki_phase_duration_seconds",
			Help: "Wall-clock duration of each scan phase",
		},
		[]string{"phase"},
	)

	collectors := []prometheus.Collector{
		m.requestsTotal,
		m.findingsTotal,
		m.pointsTotal,
		m.requestDuration,
		m.phaseDuration,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Registry exposes the underlying registry for tests and exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one HTTP attempt.
func (m *Metrics) ObserveRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveFindings counts each finding under its category.
func (m *Metrics) ObserveFindings(findings []finding.Finding) {
	if m == nil {
		return
	}
	for _, f := range findings {
		m.findingsTotal.WithLabelValues(f.Detector, string(f.Category), f.Severity.String()).Inc()
	}
}

// ObservePoint records the verdict of one probed point.
func (m *Metrics) ObservePoint(scanner, verdict string) {
	if m == nil {
		return
	}
	m.pointsTotal.WithLabelValues(scanner, verdict).Inc()
}

// ObservePhase sets the duration gauge of a scan phase.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Set(d.Seconds())
}

// WriteTextfile writes the registry in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
