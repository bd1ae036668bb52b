package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the relay's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	relayTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payroll_relay",
			Subsystem: "relay",
			Name:      "transitions_total",
			Help:      "Total number of relay state transitions.",
		},
		[]string{"from", "to"},
	)

	relayOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payroll_relay",
			Subsystem: "relay",
			Name:      "outcomes_total",
			Help:      "Total number of finished relay runs by final state and failure code.",
		},
		[]string{"state", "code"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payroll_relay",
			Subsystem: "relay",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each relay stage.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		},
		[]string{"stage"},
	)

	gasUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payroll_relay",
			Subsystem: "chain",
			Name:      "gas_used_total",
			Help:      "Gas consumed by confirmed transactions.",
		},
		[]string{"stage"},
	)

	attestationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payroll_relay",
			Subsystem: "attestation",
			Name:      "attempts_total",
			Help:      "Attestation poll attempts by outcome.",
		},
		[]string{"outcome"},
	)

	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "payroll_relay",
			Subsystem: "relay",
			Name:      "active_runs",
			Help:      "Relay runs currently in progress.",
		},
	)

	schedulerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payroll_relay",
			Subsystem: "scheduler",
			Name:      "plan_runs_total",
			Help:      "Scheduled plan dispatches.",
		},
		[]string{"plan", "success"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payroll_relay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Ops API request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	Registry.MustRegister(
		relayTransitions,
		relayOutcomes,
		stageDuration,
		gasUsed,
		attestationAttempts,
		activeRuns,
		schedulerRuns,
		httpRequestDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordTransition counts one relay state transition.
func RecordTransition(from, to string) {
	relayTransitions.WithLabelValues(from, to).Inc()
}

// RecordOutcome counts a finished run.
func RecordOutcome(state, code string) {
	relayOutcomes.WithLabelValues(state, code).Inc()
}

// ObserveStage records time spent in a stage.
func ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// AddGasUsed adds confirmed gas for a stage.
func AddGasUsed(stage string, gas uint64) {
	gasUsed.WithLabelValues(stage).Add(float64(gas))
}

// RunStarted and RunFinished track in-flight runs.
func RunStarted()  { activeRuns.Inc() }
func RunFinished() { activeRuns.Dec() }

// RecordSchedulerRun counts a scheduled plan dispatch.
func RecordSchedulerRun(plan string, success bool) {
	label := "false"
	if success {
		label = "true"
	}
	schedulerRuns.WithLabelValues(plan, label).Inc()
}

// AttestationRecorder feeds poll attempts into the attempts counter.
type AttestationRecorder struct{}

// RecordAttestationAttempt counts one poll attempt.
func (AttestationRecorder) RecordAttestationAttempt(outcome string) {
	attestationAttempts.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records one ops API request
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
