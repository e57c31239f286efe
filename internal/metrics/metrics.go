package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "powchain"

// Audit results used as the "result" label of the audit counter
const (
	AuditValid   = "valid"
	AuditInvalid = "invalid"
)

// Metrics holds the Prometheus collectors for mining and chain activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	blocksMined    prometheus.Counter
	hashTrials     prometheus.Counter
	miningDuration prometheus.Histogram
	blocksAppended prometheus.Counter
	blocksRejected prometheus.Counter
	chainAudits    *prometheus.CounterVec
	chainHeight    prometheus.Gauge
}

// New creates the collectors and registers them on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		blocksMined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_mined_total",
			Help:      "Number of blocks whose proof-of-work search succeeded.",
		}),
		hashTrials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hash_trials_total",
			Help:      "Number of block hashes computed while searching for a nonce.",
		}),
		miningDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mining_duration_seconds",
			Help:      "Wall-clock time spent searching for a nonce.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		blocksAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_appended_total",
			Help:      "Number of blocks appended to the chain.",
		}),
		blocksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_rejected_total",
			Help:      "Number of candidate blocks dropped by validation.",
		}),
		chainAudits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_audits_total",
			Help:      "Number of full chain validations by result.",
		}, []string{"result"}),
		chainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_height",
			Help:      "Number of blocks in the chain, genesis included.",
		}),
	}

	m.registry.MustRegister(
		m.blocksMined,
		m.hashTrials,
		m.miningDuration,
		m.blocksAppended,
		m.blocksRejected,
		m.chainAudits,
		m.chainHeight,
	)

	return m
}

// ObserveMining records a finished nonce search
func (m *Metrics) ObserveMining(trials uint64, elapsed time.Duration, found bool) {
	if m == nil {
		return
	}
	m.hashTrials.Add(float64(trials))
	m.miningDuration.Observe(elapsed.Seconds())
	if found {
		m.blocksMined.Inc()
	}
}

// BlockAppended records a successful append and the resulting chain height
func (m *Metrics) BlockAppended(height int) {
	if m == nil {
		return
	}
	m.blocksAppended.Inc()
	m.chainHeight.Set(float64(height))
}

// BlockRejected records a dropped candidate block
func (m *Metrics) BlockRejected() {
	if m == nil {
		return
	}
	m.blocksRejected.Inc()
}

// ChainAudited records the outcome of a full chain validation
func (m *Metrics) ChainAudited(valid bool) {
	if m == nil {
		return
	}
	result := AuditInvalid
	if valid {
		result = AuditValid
	}
	m.chainAudits.WithLabelValues(result).Inc()
}

// WriteTextfile writes the current metric values in the text exposition
// format, suitable for the node exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
