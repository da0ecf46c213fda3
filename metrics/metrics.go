// Package metrics holds the prometheus collectors shared by the HTTP layer and
// the challenge services.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
	AuthRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_rejections_total",
			Help: "Total number of unauthorized requests",
		},
		[]string{"reason"},
	)

	Joins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_joins_total",
			Help: "Join attempts by outcome",
		},
		[]string{"result"},
	)
	Activities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_activities_total",
			Help: "Activity contributions by outcome",
		},
		[]string{"result"},
	)
	Achievements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_achievements_total",
			Help: "Achievements earned by type",
		},
		[]string{"type"},
	)
	Completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_completions_total",
			Help: "Challenges completed by trigger",
		},
		[]string{"trigger"},
	)
	UpdateRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "challenge_update_retries_total",
		Help: "Challenge transactions retried after a conflict",
	})
	UpdateConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "challenge_update_conflicts_total",
		Help: "Challenge updates that failed after exhausting retries",
	})
)

var once sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AuthRejections,
			Joins,
			Activities,
			Achievements,
			Completions,
			UpdateRetries,
			UpdateConflicts,
		)
	})
}
