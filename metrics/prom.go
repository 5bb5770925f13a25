package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PromMetrics struct {
	claimed        prometheus.Counter
	succeeded      prometheus.Counter
	retried        prometheus.Counter
	failed         prometheus.Counter
	reclaimed      prometheus.Counter
	attemptLatency prometheus.Histogram
}

func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {

	m := &PromMetrics{
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_tasks_claimed_total",
			Help: "Number of claimed tasks",
		}),
		succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_tasks_succeeded_total",
			Help: "Number of tasks that succeeded",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_tasks_retried_total",
			Help: "Number of attempts scheduled for retry",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_tasks_failed_total",
			Help: "Number of tasks that failed terminally",
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_tasks_reclaimed_total",
			Help: "Number of stuck running tasks reclaimed",
		}),
		attemptLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatcher_attempt_latency_seconds",
			Help:    "Latency of external call attempts",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.claimed, m.succeeded, m.retried, m.failed, m.reclaimed, m.attemptLatency)
	return m
}

func (m *PromMetrics) TasksClaimed(n int) {
	m.claimed.Add(float64(n))
}
func (m *PromMetrics) TaskSucceeded() {
	m.succeeded.Inc()
}
func (m *PromMetrics) TaskRetried() {
	m.retried.Inc()
}
func (m *PromMetrics) TaskFailed() {
	m.failed.Inc()
}
func (m *PromMetrics) TasksReclaimed(n int) {
	m.reclaimed.Add(float64(n))
}
func (m *PromMetrics) AttemptLatency(d time.Duration) {
	m.attemptLatency.Observe(d.Seconds())
}
