package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Synthesis outcomes.
const (
	SynthesisAccepted  = "accepted"
	SynthesisBlocked   = "blocked"
	SynthesisMalformed = "malformed"
	SynthesisFailed    = "failed"
)

var (
	synthesisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlchat_synthesis_total",
			Help: "Query synthesis calls by outcome.",
		},
		[]string{"outcome"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlchat_executions_total",
			Help: "Executed statements by result kind (rows, empty, error).",
		},
		[]string{"result"},
	)
	resolveCycles = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlchat_resolve_cycles",
			Help:    "Synthesize-execute cycles used per resolved turn.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8},
		},
	)
	resolveOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlchat_resolve_outcomes_total",
			Help: "Resolve loop terminal outcomes.",
		},
		[]string{"outcome"},
	)
	responseTierTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlchat_response_tier_total",
			Help: "Responses by the streaming tier that produced them.",
		},
		[]string{"tier"},
	)
	turnDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlchat_turn_duration_seconds",
			Help:    "Wall time of a full chat turn from prompt to final fragment.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlchat_active_sessions",
			Help: "Chat sessions currently held in memory.",
		},
	)
	transcriptFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlchat_transcript_failures_total",
			Help: "Turns that could not be written to the transcript store.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		synthesisTotal,
		executionsTotal,
		resolveCycles,
		resolveOutcomesTotal,
		responseTierTotal,
		turnDurationSeconds,
		activeSessions,
		transcriptFailuresTotal,
	)
}

func IncrementSynthesis(outcome string) {
	synthesisTotal.WithLabelValues(outcome).Inc()
}

func IncrementExecution(result string) {
	executionsTotal.WithLabelValues(result).Inc()
}

func ObserveResolve(outcome string, cycles int) {
	resolveOutcomesTotal.WithLabelValues(outcome).Inc()
	resolveCycles.Observe(float64(cycles))
}

func IncrementResponseTier(tier string) {
	responseTierTotal.WithLabelValues(tier).Inc()
}

func ObserveTurn(elapsed time.Duration) {
	turnDurationSeconds.Observe(elapsed.Seconds())
}

func SetActiveSessions(n int) {
	if n < 0 {
		n = 0
	}
	activeSessions.Set(float64(n))
}

func IncrementTranscriptFailure() {
	transcriptFailuresTotal.Inc()
}
