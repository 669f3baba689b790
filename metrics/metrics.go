// Package metrics exposes quest lifecycle counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	AcceptResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quests_accept_total",
			Help: "Quest acceptance attempts by result",
		},
		[]string{"result"},
	)
	AbandonResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quests_abandon_total",
			Help: "Quest abandon attempts by result",
		},
		[]string{"result"},
	)
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quests_transitions_total",
			Help: "Quest records leaving the active state, by final status and period",
		},
		[]string{"status", "period"},
	)
	SlotRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quests_slot_rejections_total",
			Help: "Shared-quest reservations refused because no slot was free",
		},
		[]string{"access_type"},
	)
	ActionSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quests_action_signals_total",
			Help: "Action signals processed, by action type",
		},
		[]string{"type"},
	)
	ActiveTimers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quests_active_timers",
			Help: "Countdown timers currently tracked",
		},
	)
	SignalsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quests_signals_dropped_total",
			Help: "Action signals discarded before reaching the tracker, by reason",
		},
		[]string{"reason"},
	)
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quests_job_runs_total",
			Help: "Scheduled job executions by job and outcome",
		},
		[]string{"job", "outcome"},
	)
	PubSubDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quests_local_pubsub_dropped_total",
			Help: "In-process pub/sub messages a slow subscriber missed",
		},
	)
	PoolRegenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quests_pool_regenerations_total",
			Help: "Pool regenerations by period",
		},
		[]string{"period"},
	)
)

func init() {
	prometheus.MustRegister(AcceptResults)
	prometheus.MustRegister(AbandonResults)
	prometheus.MustRegister(Transitions)
	prometheus.MustRegister(SlotRejections)
	prometheus.MustRegister(ActionSignals)
	prometheus.MustRegister(ActiveTimers)
	prometheus.MustRegister(SignalsDropped)
	prometheus.MustRegister(JobRuns)
	prometheus.MustRegister(PubSubDropped)
	prometheus.MustRegister(PoolRegenerations)
}
