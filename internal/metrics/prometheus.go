package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	PushSuccessTotal    prometheus.Counter
	PushFailureTotal    prometheus.Counter
	PullSuccessTotal    prometheus.Counter
	PullFailureTotal    prometheus.Counter
	PartialSyncTotal    prometheus.Counter
	EventsDroppedTotal  prometheus.Counter
	RemoteRetriesTotal  prometheus.Counter
)

// InitCustomMetrics initializes and registers the sync metrics. It should be
// called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	PushSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idsync_push_success_total",
		Help: "Total number of records pushed to both remote surfaces successfully.",
	})
	PushFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idsync_push_failure_total",
		Help: "Total number of push reconciliations that did not fully succeed.",
	})
	PullSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idsync_pull_success_total",
		Help: "Total number of remote records pulled into the local store successfully.",
	})
	PullFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idsync_pull_failure_total",
		Help: "Total number of pull reconciliations that failed on local write.",
	})
	PartialSyncTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idsync_partial_sync_total",
		Help: "Total number of reconciliations where exactly one surface synced.",
	})
	EventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idsync_events_dropped_total",
		Help: "Total number of mutation events dropped because the queue was full.",
	})
	RemoteRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idsync_remote_retries_total",
		Help: "Total number of retried remote calls.",
	})

	if reg == nil {
		return
	}
	for _, c := range []prometheus.Counter{
		PushSuccessTotal, PushFailureTotal,
		PullSuccessTotal, PullFailureTotal,
		PartialSyncTotal, EventsDroppedTotal, RemoteRetriesTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register sync metric")
		}
	}
}
