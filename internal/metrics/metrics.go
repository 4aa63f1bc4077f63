// Package metrics exposes Prometheus collectors for the scheduler's
// job/queue/resource/agent health. Relabeled from the teacher's
// internal/metrics.Collector (same counter/gauge/histogram
// vocabulary: enqueue/dispatch/completed/failed counters, a latency
// histogram, point-in-time backlog gauges) but widened from a single
// global pending/in-flight pair to the per-state GlobalStats spec.md
// §3 tracks, per-queue and per-resource labels, and an agent
// connectivity gauge the teacher has no equivalent of (its workers
// pull jobs over gRPC with no handshake to track).
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric this controller exposes. Construct one
// per process via NewCollector; it registers itself with the default
// Prometheus registry, so a second call in the same process panics —
// exactly the teacher's documented single-collector-per-process rule.
type Collector struct {
	jobsSubmitted  prometheus.Counter
	jobsDispatched prometheus.Counter
	jobsCompleted  prometheus.Counter
	jobsExited     prometheus.Counter

	jobLatency   prometheus.Histogram
	recoveryTime prometheus.Gauge

	jobsByState   *prometheus.GaugeVec
	queueBacklog  *prometheus.GaugeVec
	resourceInUse *prometheus.GaugeVec

	agentsConnected prometheus.Gauge

	journalBatchSize prometheus.Histogram
	snapshotDuration prometheus.Histogram
}

// NewCollector creates and registers a new metrics collector.
func NewCollector() *Collector {
	c := &Collector{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jers_jobs_submitted_total",
			Help: "Total number of jobs accepted via add_job",
		}),
		jobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jers_jobs_dispatched_total",
			Help: "Total number of START_JOB frames sent to agents",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jers_jobs_completed_total",
			Help: "Total number of jobs that finished with exit code 0",
		}),
		jobsExited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jers_jobs_exited_total",
			Help: "Total number of jobs that finished non-zero, signaled, or lost their agent",
		}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jers_job_latency_seconds",
			Help:    "Time from submit to finish, in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		recoveryTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jers_recovery_time_seconds",
			Help: "Wall time spent replaying the snapshot and journal on the last restart",
		}),
		jobsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jers_jobs_by_state",
			Help: "Current number of jobs in each state",
		}, []string{"state"}),
		queueBacklog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jers_queue_pending",
			Help: "Current number of pending jobs per queue",
		}, []string{"queue"}),
		resourceInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jers_resource_in_use",
			Help: "Current in-use count per named resource",
		}, []string{"resource"}),
		agentsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jers_agents_connected",
			Help: "Current number of agents in the Ready handshake state",
		}),
		journalBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jers_journal_batch_size",
			Help:    "Number of records flushed per journal fsync",
			Buckets: prometheus.LinearBuckets(1, 4, 10),
		}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jers_snapshot_duration_seconds",
			Help:    "Wall time to write one snapshot generation",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		c.jobsSubmitted, c.jobsDispatched, c.jobsCompleted, c.jobsExited,
		c.jobLatency, c.recoveryTime, c.jobsByState, c.queueBacklog,
		c.resourceInUse, c.agentsConnected, c.journalBatchSize, c.snapshotDuration,
	)
	return c
}

// RecordSubmit records a newly-submitted job.
func (c *Collector) RecordSubmit() { c.jobsSubmitted.Inc() }

// RecordDispatch records a START_JOB send.
func (c *Collector) RecordDispatch() { c.jobsDispatched.Inc() }

// RecordFinished records a job reaching Completed or Exited, with its
// end-to-end latency.
func (c *Collector) RecordFinished(completed bool, latencySeconds float64) {
	if completed {
		c.jobsCompleted.Inc()
	} else {
		c.jobsExited.Inc()
	}
	c.jobLatency.Observe(latencySeconds)
}

// SetRecoveryTime records how long the last startup's recovery took.
func (c *Collector) SetRecoveryTime(seconds float64) { c.recoveryTime.Set(seconds) }

// SetJobsByState updates the gauge for one job state label.
func (c *Collector) SetJobsByState(state string, count int) {
	c.jobsByState.WithLabelValues(state).Set(float64(count))
}

// SetQueueBacklog updates the pending-job gauge for one queue.
func (c *Collector) SetQueueBacklog(queue string, pending int) {
	c.queueBacklog.WithLabelValues(queue).Set(float64(pending))
}

// SetResourceInUse updates the in-use gauge for one named resource.
func (c *Collector) SetResourceInUse(resource string, inUse int64) {
	c.resourceInUse.WithLabelValues(resource).Set(float64(inUse))
}

// SetAgentsConnected updates the count of Ready agent sessions.
func (c *Collector) SetAgentsConnected(n int) { c.agentsConnected.Set(float64(n)) }

// ObserveJournalBatch records how many records one flushBatch call wrote.
func (c *Collector) ObserveJournalBatch(size int) { c.journalBatchSize.Observe(float64(size)) }

// ObserveSnapshotDuration records how long one snapshot generation took.
func (c *Collector) ObserveSnapshotDuration(seconds float64) { c.snapshotDuration.Observe(seconds) }

// StartServer serves /metrics on the given port, exactly as the
// teacher's metrics.StartServer does.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
