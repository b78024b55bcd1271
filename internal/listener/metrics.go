package listener

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagwatch_listener_events_total",
			Help: "Events popped from the reader session, by kind.",
		},
		[]string{"kind"},
	)
	reportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagwatch_listener_reports_total",
			Help: "Reports decoded and emitted, by kind.",
		},
		[]string{"kind"},
	)
	tagsObservedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tagwatch_listener_tags_observed_total",
			Help: "Tag events carrying a valid tag identifier.",
		},
	)
	startFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagwatch_listener_start_failures_total",
			Help: "Failed listener starts, by stage.",
		},
		[]string{"stage"},
	)
	teardownFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagwatch_listener_teardown_failures_total",
			Help: "Failed teardown steps, by stage.",
		},
		[]string{"stage"},
	)
	drainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tagwatch_listener_drain_duration_seconds",
			Help:    "Time spent draining the session queues per notification.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)
	stateGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagwatch_listener_state",
			Help: "Controller state: 0 idle, 1 starting, 2 listening, 3 stopping.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		eventsTotal,
		reportsTotal,
		tagsObservedTotal,
		startFailuresTotal,
		teardownFailuresTotal,
		drainDuration,
		stateGauge,
	)
}
