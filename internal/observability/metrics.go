package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enginectl",
			Subsystem: "launch",
			Name:      "attempts_total",
			Help:      "Engine launch attempts by readiness outcome.",
		},
		[]string{"outcome"},
	)
	readinessWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "enginectl",
			Subsystem: "launch",
			Name:      "readiness_wait_seconds",
			Help:      "Time spent waiting for an engine to become reachable.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)
	forcedKills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "enginectl",
			Subsystem: "session",
			Name:      "forced_kills_total",
			Help:      "Engine processes killed after a graceful quit timed out.",
		},
	)
	teardownSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enginectl",
			Subsystem: "session",
			Name:      "teardown_steps_total",
			Help:      "Shutdown steps executed, by step and success.",
		},
		[]string{"step", "ok"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "enginectl",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently held in the registry.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enginectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status-server HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "enginectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status-server HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			launches, readinessWait, forcedKills, teardownSteps,
			activeSessions, httpRequests, httpDuration,
		)
	})
}

func RecordLaunch(outcome string, wait time.Duration) {
	RegisterMetrics()
	launches.WithLabelValues(outcome).Inc()
	readinessWait.WithLabelValues(outcome).Observe(wait.Seconds())
}

func RecordForcedKill() {
	RegisterMetrics()
	forcedKills.Inc()
}

func RecordTeardownStep(step string, ok bool) {
	RegisterMetrics()
	teardownSteps.WithLabelValues(step, strconv.FormatBool(ok)).Inc()
}

func SetActiveSessions(n int) {
	RegisterMetrics()
	activeSessions.Set(float64(n))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
