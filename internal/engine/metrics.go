package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests *prometheus.CounterVec
	memoHits prometheus.Counter
	duration *prometheus.HistogramVec
	sessions prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildweaver",
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Rule executions, by rule and outcome.",
		}, []string{"rule", "outcome"}),
		memoHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "buildweaver",
			Subsystem: "engine",
			Name:      "memo_hits_total",
			Help:      "Requests satisfied by an existing node of the session memo table.",
		}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "buildweaver",
			Subsystem: "engine",
			Name:      "rule_duration_seconds",
			Help:      "Wall time of rule executions, including time suspended in joins.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"rule"}),
		sessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "buildweaver",
			Subsystem: "engine",
			Name:      "sessions_total",
			Help:      "Sessions created.",
		}),
	}
}
