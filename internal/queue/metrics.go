// ABOUTME: Prometheus counters for the job queues, labeled by queue name.
package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speakr_jobs_claimed_total",
		Help: "Jobs successfully claimed for processing.",
	}, []string{"queue"})

	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speakr_jobs_completed_total",
		Help: "Jobs that finished successfully.",
	}, []string{"queue"})

	jobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speakr_jobs_retried_total",
		Help: "Jobs requeued after a transient failure.",
	}, []string{"queue"})

	jobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speakr_jobs_failed_total",
		Help: "Jobs that reached the failed state.",
	}, []string{"queue"})

	claimRaces = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speakr_claim_races_total",
		Help: "Claim attempts lost to a concurrent worker.",
	}, []string{"queue"})

	staleRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speakr_jobs_stale_requeued_total",
		Help: "Jobs recovered from a stale processing state.",
	})
)
