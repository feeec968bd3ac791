// Package metrics declares the Prometheus collectors spec.md §4.7/§6
// implies an operable scheduler needs: queue depth, claim/completion/
// dead-letter/retry counts, and leader status. They are registered against
// the shared registry in internal/pkg/prometheus so cmd/companion's web
// subcommand can expose them on /metrics via promhttp, the way the teacher
// wires hertz-contrib/monitor-prometheus for its own gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	pkgprometheus "github.com/eykd/companion-memory/internal/pkg/prometheus"
)

// Collectors groups every metric the Worker and SingletonLock report
// against. A nil *Collectors is valid everywhere it is consumed: every
// reporting call on this package is a no-op on a nil receiver, so callers
// that don't care about metrics (most tests) never need a fake.
type Collectors struct {
	JobsClaimed      prometheus.Counter
	JobsCompleted    prometheus.Counter
	JobsDeadLettered prometheus.Counter
	JobsRetried      *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	LeaderStatus     prometheus.Gauge
}

// New constructs and registers a Collectors against reg. Call it once per
// process; registering the same collector twice panics, consistent with
// client_golang's own contract.
func New(reg *prometheus.Registry) *Collectors {
	c := &Collectors{
		JobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "companion_memory",
			Name:      "jobs_claimed_total",
			Help:      "Jobs successfully claimed by this worker.",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "companion_memory",
			Name:      "jobs_completed_total",
			Help:      "Jobs whose handler returned cleanly.",
		}),
		JobsDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "companion_memory",
			Name:      "jobs_dead_lettered_total",
			Help:      "Jobs that exhausted their retry budget or failed validation.",
		}),
		JobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion_memory",
			Name:      "jobs_retried_total",
			Help:      "Jobs deferred back to pending after a retryable failure, by job_type.",
		}, []string{"job_type"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "companion_memory",
			Name:      "queue_depth",
			Help:      "Due jobs returned by the most recent QueryDue poll.",
		}),
		LeaderStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "companion_memory",
			Name:      "leader_status",
			Help:      "1 if this process currently holds the singleton cron lock, else 0.",
		}),
	}

	reg.MustRegister(c.JobsClaimed, c.JobsCompleted, c.JobsDeadLettered, c.JobsRetried, c.QueueDepth, c.LeaderStatus)
	return c
}

// NewDefault registers against the process-wide shared registry.
func NewDefault() *Collectors {
	return New(pkgprometheus.GetRegistry())
}

func (c *Collectors) incClaimed() {
	if c == nil {
		return
	}
	c.JobsClaimed.Inc()
}

func (c *Collectors) incCompleted() {
	if c == nil {
		return
	}
	c.JobsCompleted.Inc()
}

func (c *Collectors) incDeadLettered() {
	if c == nil {
		return
	}
	c.JobsDeadLettered.Inc()
}

func (c *Collectors) incRetried(jobType string) {
	if c == nil {
		return
	}
	c.JobsRetried.WithLabelValues(jobType).Inc()
}

func (c *Collectors) setQueueDepth(n int) {
	if c == nil {
		return
	}
	c.QueueDepth.Set(float64(n))
}

func (c *Collectors) setLeader(isLeader bool) {
	if c == nil {
		return
	}
	v := 0.0
	if isLeader {
		v = 1.0
	}
	c.LeaderStatus.Set(v)
}

// ObserveClaim records a Worker.pollOnce claim-win.
func (c *Collectors) ObserveClaim() { c.incClaimed() }

// ObserveQueueDepth records the size of a QueryDue batch.
func (c *Collectors) ObserveQueueDepth(n int) { c.setQueueDepth(n) }

// ObserveOutcome records a finalized job's terminal or retry disposition.
func (c *Collectors) ObserveOutcome(jobType string, disposition Disposition) {
	switch disposition {
	case DispositionCompleted:
		c.incCompleted()
	case DispositionRetried:
		c.incRetried(jobType)
	case DispositionDeadLettered:
		c.incDeadLettered()
	}
}

// ObserveLeader records a leadership transition.
func (c *Collectors) ObserveLeader(isLeader bool) { c.setLeader(isLeader) }

// Disposition is how a job's execution was finalized, for metric labeling.
type Disposition int

const (
	DispositionCompleted Disposition = iota
	DispositionRetried
	DispositionDeadLettered
)
