package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics tracks lifecycle commands applied by the jobs engine.
type JobMetrics struct {
	commands    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	throttles   *prometheus.CounterVec
	ratings     prometheus.Histogram
}

var (
	jobMetricsOnce sync.Once
	jobRegistry    *JobMetrics
)

// Jobs returns the lazily-initialised registry for lifecycle command metrics.
func Jobs() *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobRegistry = &JobMetrics{
			commands: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jobchain",
				Subsystem: "jobs",
				Name:      "commands_total",
				Help:      "Lifecycle commands segmented by kind and outcome (ok or the error kind).",
			}, []string{"kind", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "jobchain",
				Subsystem: "jobs",
				Name:      "command_duration_seconds",
				Help:      "Latency distribution for lifecycle commands, commit included.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jobchain",
				Subsystem: "jobs",
				Name:      "transitions_total",
				Help:      "Committed status transitions segmented by target status.",
			}, []string{"status"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "jobchain",
				Subsystem: "jobs",
				Name:      "throttles_total",
				Help:      "Commands refused by operator policy (pause or quota).",
			}, []string{"reason"}),
			ratings: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "jobchain",
				Subsystem: "reputation",
				Name:      "rating_value",
				Help:      "Distribution of recorded job ratings.",
				Buckets:   []float64{1, 2, 3, 4, 5},
			}),
		}
		prometheus.MustRegister(
			jobRegistry.commands,
			jobRegistry.latency,
			jobRegistry.transitions,
			jobRegistry.throttles,
			jobRegistry.ratings,
		)
	})
	return jobRegistry
}

// ObserveCommand records the outcome of one command. outcome is "ok" or a
// stable error kind.
func (m *JobMetrics) ObserveCommand(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	kind = labelOr(kind, "unknown")
	m.commands.WithLabelValues(kind, labelOr(outcome, "ok")).Inc()
	m.latency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordTransition counts a committed move into status.
func (m *JobMetrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(labelOr(status, "unknown")).Inc()
}

// RecordThrottle counts a command refused by policy. Reasons should be stable
// strings such as "paused" or "quota_exceeded".
func (m *JobMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelOr(reason, "unspecified")).Inc()
}

// RecordRating observes one recorded rating.
func (m *JobMetrics) RecordRating(rating uint8) {
	if m == nil {
		return
	}
	m.ratings.Observe(float64(rating))
}

func labelOr(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
