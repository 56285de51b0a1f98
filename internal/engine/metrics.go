package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько заняла оценка (включая поход в БД)
	EvalDuration *prometheus.HistogramVec

	// Traffic: общее кол-во оценок по типу и исходу
	EvalTotal *prometheus.CounterVec

	// Эффективность мемоизации решений
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — если рег не передан, используем локальный,
	// который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		EvalDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "policy_eval_duration_seconds",
			Help:    "Histogram of policy evaluation latencies.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"type", "result"}),

		EvalTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "policy_eval_total",
			Help: "Total number of policy evaluations.",
		}, []string{"type", "result"}), // исходы: allow, deny, error

		CacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "policy_eval_cache_hits_total",
			Help: "Decisions served from the decision cache.",
		}),

		CacheMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "policy_eval_cache_misses_total",
			Help: "Evaluations that had to run the full scan.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "policy_audit_buffer_utilization",
			Help: "Current number of entries in the audit buffer.",
		}),
	}
}
