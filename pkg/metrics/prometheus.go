package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"PortfolioAgents/internal/domain/repository"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	agentCalls    *prometheus.CounterVec
	agentLatency  *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	ledgerAppends *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	errorsTotal   *prometheus.CounterVec
}

var _ repository.Metrics = (*Recorder)(nil)

// New creates a recorder registered on reg, or on the default registry when reg is nil.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		agentCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_agent_calls_total",
				Help: "Agent calls by agent and final result",
			},
			[]string{"agent", "result"},
		),
		agentLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portfolio_agent_call_duration_seconds",
				Help:    "Agent call duration including retries",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40},
			},
			[]string{"agent"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_agent_retries_total",
				Help: "Agent call retries",
			},
			[]string{"agent"},
		),
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_asset_outcomes_total",
				Help: "Per-asset run outcomes",
			},
			[]string{"outcome", "decision"},
		),
		ledgerAppends: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_ledger_appends_total",
				Help: "Ledger entries appended by chain",
			},
			[]string{"chain"},
		),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_runs_total",
				Help: "Pipeline runs by final state",
			},
			[]string{"state"},
		),
		runDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "portfolio_run_duration_seconds",
				Help:    "Pipeline run duration",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_errors_total",
				Help: "Errors by kind",
			},
			[]string{"type"},
		),
	}
}

func (r *Recorder) RecordAgentCall(agent, result string, seconds float64) {
	r.agentCalls.WithLabelValues(agent, result).Inc()
	r.agentLatency.WithLabelValues(agent).Observe(seconds)
}

func (r *Recorder) RecordRetry(agent string) {
	r.retries.WithLabelValues(agent).Inc()
}

func (r *Recorder) RecordDecision(outcome, decision string) {
	r.decisions.WithLabelValues(outcome, decision).Inc()
}

func (r *Recorder) RecordLedgerAppend(chain string) {
	r.ledgerAppends.WithLabelValues(chain).Inc()
}

// RecordRun records a finished run.
func (r *Recorder) RecordRun(state string, seconds float64) {
	r.runs.WithLabelValues(state).Inc()
	r.runDuration.Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
