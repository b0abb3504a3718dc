package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the offline cache manager.
var (
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_worker_state_transitions_total",
		Help: "Lifecycle state transitions by target state",
	}, []string{"state"})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_worker_tasks_total",
		Help: "Finished event tasks by event and result",
	}, []string{"event", "result"})

	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_worker_fetch_total",
		Help: "Intercepted fetches by response source",
	}, []string{"source"})

	dynamicWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_worker_dynamic_writes_total",
		Help: "Background dynamic cache writes by result",
	}, []string{"result"})

	installFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_worker_install_failures_total",
		Help: "Failed install attempts",
	})

	staleDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_worker_stale_cache_deletes_total",
		Help: "Stale cache generation deletions during activation by result",
	}, []string{"result"})

	pushIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_worker_push_ignored_total",
		Help: "Push payloads ignored by reason",
	}, []string{"reason"})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_worker_messages_total",
		Help: "Control messages received by type",
	}, []string{"type"})

	syncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_worker_sync_total",
		Help: "Background sync runs by result",
	}, []string{"result"})
)
