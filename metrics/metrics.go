package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsGenerator is everything the pipeline reports. It is satisfied by
// both the prometheus backed Metrics and NoopMetrics.
type MetricsGenerator interface {
	IncOperation(stage, status string)
	ObserveSettlement(d time.Duration)
	IncTokenCatalog(outcome string)
	IncRun(kind, status string)
}

// Metrics contains instrumented metrics for swap and share-trade runs.
type Metrics struct {
	operations   *prometheus.CounterVec
	settlement   prometheus.Histogram
	tokenCatalog *prometheus.CounterVec
	runs         *prometheus.CounterVec
}

const aaNamespace = "aaswap"

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: aaNamespace,
				Name:      "user_operations_total",
				Help:      "The number of user operations that reached a stage, labelled by the outcome at that stage",
			}, []string{"stage", "status"}),

		settlement: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: aaNamespace,
				Name:      "settlement_seconds",
				Help:      "Time from bundler acceptance to a confirmed receipt",
				Buckets:   []float64{1, 2, 5, 10, 15, 20, 30, 45, 60, 120},
			}),

		tokenCatalog: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: aaNamespace,
				Name:      "token_catalog_queries_total",
				Help:      "The number of supported token lookups. An increasing error count means the paymaster is unreachable",
			}, []string{"outcome"}),

		runs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: aaNamespace,
				Name:      "runs_total",
				Help:      "The number of swap or share runs started, by result",
			}, []string{"kind", "status"}),
	}
}

func (m *Metrics) IncOperation(stage, status string) {
	m.operations.WithLabelValues(stage, status).Inc()
}

func (m *Metrics) ObserveSettlement(d time.Duration) {
	m.settlement.Observe(d.Seconds())
}

func (m *Metrics) IncTokenCatalog(outcome string) {
	m.tokenCatalog.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRun(kind, status string) {
	m.runs.WithLabelValues(kind, status).Inc()
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) IncOperation(stage, status string) {}
func (NoopMetrics) ObserveSettlement(d time.Duration) {}
func (NoopMetrics) IncTokenCatalog(outcome string)    {}
func (NoopMetrics) IncRun(kind, status string)        {}
