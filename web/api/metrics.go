package api

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hochfrequenz/wfsync/internal/domain"
	"github.com/hochfrequenz/wfsync/internal/runner"
)

// Metrics are the Prometheus collectors exported on /metrics
type Metrics struct {
	runsTotal     *prometheus.CounterVec
	comparesTotal *prometheus.CounterVec
	cacheHits     prometheus.Counter
	makespan      *prometheus.HistogramVec
}

// NewMetrics creates and registers the API collectors on reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wfsync",
			Name:      "runs_total",
			Help:      "Scheduling runs by policy and outcome.",
		}, []string{"policy", "outcome"}),
		comparesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wfsync",
			Name:      "compares_total",
			Help:      "Policy comparison requests by outcome.",
		}, []string{"outcome"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wfsync",
			Name:      "cache_hits_total",
			Help:      "Schedule requests answered from the result cache.",
		}),
		makespan: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wfsync",
			Name:      "makespan",
			Help:      "Simulated makespan of successful runs, in workflow time units.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"policy"}),
	}

	for _, c := range []prometheus.Collector{m.runsTotal, m.comparesTotal, m.cacheHits, m.makespan} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// observe records one run outcome
func (m *Metrics) observe(policy string, res *runner.Result, err error) {
	m.runsTotal.WithLabelValues(policy, outcome(err)).Inc()
	if err == nil && res != nil {
		m.makespan.WithLabelValues(policy).Observe(res.Metrics.Makespan)
	}
}

// observeCompare records one comparison request and, when it succeeded,
// every per-policy run it produced
func (m *Metrics) observeCompare(results []*runner.Result, err error) {
	m.comparesTotal.WithLabelValues(outcome(err)).Inc()
	for _, res := range results {
		m.observe(string(res.Policy), res, nil)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidConfig):
		return "invalid"
	case errors.Is(err, domain.ErrDeadlock):
		return "deadlock"
	default:
		return "error"
	}
}
