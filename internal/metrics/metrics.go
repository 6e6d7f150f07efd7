package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Probe outcomes recorded by the poller.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

var (
	ProbeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainsync_probe_runs_total",
		Help: "Poller ticks by subscription name and outcome",
	}, []string{"name", "outcome"})

	ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainsync_probe_duration_seconds",
		Help:    "Duration of probe executions",
		Buckets: prometheus.DefBuckets,
	}, []string{"name"})

	ValuePublications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainsync_value_publications_total",
		Help: "Values republished after a change was observed",
	}, []string{"name"})

	EventLogSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainsync_event_log_records",
		Help: "Records held in a merged event log",
	}, []string{"contract", "event"})

	DecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainsync_event_decode_failures_total",
		Help: "Logs skipped because they could not be decoded",
	}, []string{"contract", "event"})

	TxOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainsync_transactions_total",
		Help: "Submitted operations by terminal state and error kind",
	}, []string{"state", "kind"})

	GasPriceWei = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainsync_gas_price_wei",
		Help: "Cached gas price per strategy",
	}, []string{"strategy"})
)
