package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BenchMetrics holds all Prometheus metrics for the benchmark harness.
type BenchMetrics struct {
	// Call counters by provider, protocol and outcome
	CallsTotal *prometheus.CounterVec

	// Call duration distribution
	CallDuration *prometheus.HistogramVec

	// Gauges
	InFlightCalls  prometheus.Gauge
	ScenarioActive *prometheus.GaugeVec

	// Batch progression
	BatchesTotal *prometheus.CounterVec
}

// NewBenchMetrics creates and registers all benchmark metrics.
func NewBenchMetrics(reg prometheus.Registerer) *BenchMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &BenchMetrics{
		CallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcbench_calls_total",
				Help: "Total RPC calls by provider, protocol and outcome",
			},
			[]string{"provider", "protocol", "status"},
		),

		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpcbench_call_duration_seconds",
				Help:    "RPC call duration by provider and protocol",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"provider", "protocol"},
		),

		InFlightCalls: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rpcbench_inflight_calls",
				Help: "RPC calls currently in flight",
			},
		),

		ScenarioActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rpcbench_scenario_active",
				Help: "Whether a scenario is currently running (1 active, 0 otherwise)",
			},
			[]string{"scenario"},
		),

		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcbench_batches_total",
				Help: "Completed batches by scenario and provider",
			},
			[]string{"scenario", "provider"},
		),
	}
}

// RecordCall records one finished call.
func (m *BenchMetrics) RecordCall(provider, protocol string, failed bool, seconds float64) {
	status := "success"
	if failed {
		status = "error"
	}
	m.CallsTotal.WithLabelValues(provider, protocol, status).Inc()
	m.CallDuration.WithLabelValues(provider, protocol).Observe(seconds)
}

// CallStarted marks one call entering flight.
func (m *BenchMetrics) CallStarted() {
	m.InFlightCalls.Inc()
}

// CallFinished marks one call leaving flight.
func (m *BenchMetrics) CallFinished() {
	m.InFlightCalls.Dec()
}

// ScenarioStarted marks a scenario active.
func (m *BenchMetrics) ScenarioStarted(scenario string) {
	m.ScenarioActive.WithLabelValues(scenario).Set(1)
}

// ScenarioFinished marks a scenario inactive.
func (m *BenchMetrics) ScenarioFinished(scenario string) {
	m.ScenarioActive.WithLabelValues(scenario).Set(0)
}

// BatchCompleted records one finished batch.
func (m *BenchMetrics) BatchCompleted(scenario, provider string) {
	m.BatchesTotal.WithLabelValues(scenario, provider).Inc()
}
