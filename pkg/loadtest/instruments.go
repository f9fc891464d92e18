package loadtest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instruments exposes run-level Prometheus metrics. Counters are updated
// once a run has finished, never while it is in progress.
type Instruments struct {
	runs       *prometheus.CounterVec
	requests   *prometheus.CounterVec
	latency    prometheus.Histogram
	activeRuns prometheus.Gauge
}

// NewInstruments registers the load test collectors on reg
func NewInstruments(reg prometheus.Registerer) *Instruments {
	factory := promauto.With(reg)

	return &Instruments{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loadlab",
			Name:      "runs_total",
			Help:      "Load test runs by terminal status.",
		}, []string{"status"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loadlab",
			Name:      "requests_total",
			Help:      "Requests issued by load tests, by outcome.",
		}, []string{"outcome"}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loadlab",
			Name:      "request_duration_milliseconds",
			Help:      "Latency of successful load test requests.",
			Buckets:   []float64{10, 50, 100, 200, 500, 1000, 2000},
		}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "loadlab",
			Name:      "active_runs",
			Help:      "Load tests currently in progress.",
		}),
	}
}

func (m *Instruments) runStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

func (m *Instruments) runFinished(status Status, outcomes []RequestOutcome) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runs.WithLabelValues(string(status)).Inc()

	var failed float64
	for _, o := range outcomes {
		if o.Failed {
			failed++
			continue
		}
		m.latency.Observe(o.LatencyMs)
	}
	m.requests.WithLabelValues("success").Add(float64(len(outcomes)) - failed)
	m.requests.WithLabelValues("failure").Add(failed)
}
