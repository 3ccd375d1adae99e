package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	Verifications     *prometheus.CounterVec
	RiskScore         prometheus.Histogram
	BlocksAppended    prometheus.Counter
	MiningIterations  prometheus.Histogram
	MiningDuration    prometheus.Histogram
	MirrorFailures    prometheus.Counter
	ChallengesIssued  prometheus.Counter
	ChallengeOutcomes *prometheus.CounterVec
	StreamDropped     prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_verifications_total",
			Help: "Verification pipeline verdicts by outcome.",
		}, []string{"outcome"}),
		RiskScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veritas_risk_score",
			Help:    "Distribution of computed risk scores.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		BlocksAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_ledger_blocks_appended_total",
			Help: "Blocks appended to the audit ledger.",
		}),
		MiningIterations: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veritas_ledger_mining_iterations",
			Help:    "Nonce search iterations per mined block.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		MiningDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veritas_ledger_mining_duration_seconds",
			Help:    "Wall time spent mining per block.",
			Buckets: prometheus.DefBuckets,
		}),
		MirrorFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_ledger_mirror_failures_total",
			Help: "Best-effort mirror writes that failed.",
		}),
		ChallengesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_challenges_issued_total",
			Help: "Proof-of-knowledge challenges issued.",
		}),
		ChallengeOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_challenge_consume_total",
			Help: "Challenge consume attempts by result.",
		}, []string{"result"}),
		StreamDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veritas_audit_stream_dropped_total",
			Help: "Audit events dropped by the best-effort stream publisher.",
		}),
	}
}

// ObserveVerification records a pipeline verdict.
func (m *Metrics) ObserveVerification(outcome string, score int) {
	m.Verifications.WithLabelValues(outcome).Inc()
	m.RiskScore.Observe(float64(score))
}

// ObserveMining records one mined block.
func (m *Metrics) ObserveMining(iterations int, elapsed time.Duration) {
	m.BlocksAppended.Inc()
	m.MiningIterations.Observe(float64(iterations))
	m.MiningDuration.Observe(elapsed.Seconds())
}
