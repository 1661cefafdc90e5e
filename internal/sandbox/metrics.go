package sandbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Execution outcomes used as the "outcome" label.
const (
	outcomeSuccess   = "success"
	outcomeFailure   = "failure"
	outcomeTimeout   = "timeout"
	outcomeError     = "error"
	outcomeMissing   = "missing_output"
	outcomeMalformed = "malformed"
)

type metrics struct {
	executions *prometheus.CounterVec
	cacheHits  prometheus.Counter
	shared     prometheus.Counter
	duration   prometheus.Histogram
}

// newMetrics registers the runner metrics on reg. A nil reg leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildweaver",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Processes executed, by outcome.",
		}, []string{"outcome"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "buildweaver",
			Subsystem: "sandbox",
			Name:      "cache_hits_total",
			Help:      "Process results replayed from the cache.",
		}),
		shared: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "buildweaver",
			Subsystem: "sandbox",
			Name:      "shared_executions_total",
			Help:      "Runs that joined an identical process already executing.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "buildweaver",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of executed processes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}
