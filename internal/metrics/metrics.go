// Package metrics defines the Prometheus collectors the orchestrator and
// host-meta crawler report against: queue depth, crawl latency, and
// reconcile outcomes. A nil *Registry is valid everywhere it's accepted;
// callers that don't wire metrics simply get no-op instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds the collectors exposed on /metrics, registered against
// their own private prometheus.Registry rather than the global default so
// a Server can mount Gatherer behind /metrics without picking up whatever
// else an imported package registered globally.
type Registry struct {
	QueueDepth        prometheus.Gauge
	CrawlDuration     prometheus.Histogram
	ReconcileOutcomes *prometheus.CounterVec

	Gatherer prometheus.Gatherer
}

// New builds a Registry with every collector already registered and ready
// to scrape via Gatherer.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "prevant",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of tasks currently queued, not yet popped for execution.",
		}),
		CrawlDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "prevant",
			Subsystem: "hostmeta",
			Name:      "crawl_duration_seconds",
			Help:      "Duration of one host-meta crawler Tick pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		ReconcileOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prevant",
			Subsystem: "orchestrator",
			Name:      "reconcile_outcomes_total",
			Help:      "Count of completed reconcile tasks by task kind and outcome (success/error).",
		}, []string{"kind", "outcome"}),
		Gatherer: reg,
	}
	reg.MustRegister(r.QueueDepth, r.CrawlDuration, r.ReconcileOutcomes)
	return r
}

// ObserveReconcile records one completed reconcile task's outcome. r may be
// nil, in which case ObserveReconcile is a no-op.
func (r *Registry) ObserveReconcile(kind string, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.ReconcileOutcomes.WithLabelValues(kind, outcome).Inc()
}

// SetQueueDepth reports the current queue depth. r may be nil.
func (r *Registry) SetQueueDepth(n int) {
	if r == nil {
		return
	}
	r.QueueDepth.Set(float64(n))
}

// ObserveCrawl records how long one crawler Tick pass took. r may be nil.
func (r *Registry) ObserveCrawl(seconds float64) {
	if r == nil {
		return
	}
	r.CrawlDuration.Observe(seconds)
}
