package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	Detections      atomic.Uint64

	// Error counters
	ReadErrors   atomic.Uint64
	DetectErrors atomic.Uint64

	// Counting results
	CrossingsIn  atomic.Uint64
	CrossingsOut atomic.Uint64

	// Re-ID results
	ReIDMatches       atomic.Uint64
	ReIDRegistrations atomic.Uint64

	// Latency tracking
	ProcessLatencyMs atomic.Uint64 // last frame, in ms

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	counters := []struct {
		name, help string
		v          *atomic.Uint64
	}{
		{"people_counter_frames_read_total", "Total frames read from the camera", &m.FramesRead},
		{"people_counter_frames_processed_total", "Total frames run through detection and counting", &m.FramesProcessed},
		{"people_counter_detections_total", "Total person detections", &m.Detections},
		{"people_counter_read_errors_total", "Total frame read errors", &m.ReadErrors},
		{"people_counter_detect_errors_total", "Total person detection errors", &m.DetectErrors},
		{"people_counter_crossings_in_total", "Total IN crossings since start", &m.CrossingsIn},
		{"people_counter_crossings_out_total", "Total OUT crossings since start", &m.CrossingsOut},
		{"people_counter_reid_matches_total", "Detections matched to a known person", &m.ReIDMatches},
		{"people_counter_reid_registrations_total", "Detections registered as a new person", &m.ReIDRegistrations},
	}
	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "people_counter_process_latency_ms",
			Help: "Processing latency of the last frame in milliseconds",
		},
		func() float64 { return float64(m.ProcessLatencyMs.Load()) },
	))
}

// RegisterGauge exposes a value owned by another component, e.g. the number
// of active tracks or known persons.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

// UpdateProcessLatency stores the processing time of the last frame
func (m *Metrics) UpdateProcessLatency(d time.Duration) {
	m.ProcessLatencyMs.Store(uint64(d.Milliseconds()))
}

// Gather returns the current value of every metric by name.
func (m *Metrics) Gather() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(families))
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				out[f.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[f.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
