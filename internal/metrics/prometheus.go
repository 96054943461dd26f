// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Acquisition results used as the "result" label.
const (
	ResultOwned     = "owned"
	ResultConflict  = "conflict"
	ResultExhausted = "exhausted"
	ResultError     = "error"
	ResultLost      = "lost"
)

var (
	// AcquireAttempts tracks acquisition attempts by lock and result.
	AcquireAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locksync_acquire_attempts_total",
			Help: "Total lock acquisition attempts by lock and result",
		},
		[]string{"lock", "result"},
	)

	// Renewals tracks lease renewals performed by holding heartbeats.
	Renewals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locksync_renewals_total",
			Help: "Total lease renewals by lock and result",
		},
		[]string{"lock", "result"},
	)

	// WaitCycles tracks wait-and-poll rounds spent on contended locks.
	WaitCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locksync_wait_cycles_total",
			Help: "Total wait cycles spent waiting for a contended lock",
		},
		[]string{"lock"},
	)

	// LocksHeld tracks whether this process currently holds a lock.
	LocksHeld = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "locksync_locks_held",
			Help: "Whether the lock is currently held by this process (0 or 1)",
		},
		[]string{"lock"},
	)

	// RemoteRequestDuration tracks latency of calls to the remote lock service.
	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "locksync_remote_request_duration_seconds",
			Help:    "Remote lock service request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"backend", "op"},
	)

	// ElectionRuns tracks election runs by the role this process ended up in.
	ElectionRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locksync_election_runs_total",
			Help: "Total election runs by election and role",
		},
		[]string{"election", "role"},
	)
)

// RegisterMetricsEndpoint registers the /metrics endpoint on a Gin router.
func RegisterMetricsEndpoint(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// RecordAcquireAttempt records the outcome of one acquisition attempt.
func RecordAcquireAttempt(lock, result string) {
	AcquireAttempts.WithLabelValues(lock, result).Inc()
}

// RecordRenewal records the outcome of one renewal tick.
func RecordRenewal(lock, result string) {
	Renewals.WithLabelValues(lock, result).Inc()
}

// RecordWaitCycle records a completed wait cycle.
func RecordWaitCycle(lock string) {
	WaitCycles.WithLabelValues(lock).Inc()
}

// SetLockHeld sets the held gauge for a lock.
func SetLockHeld(lock string, held bool) {
	v := 0.0
	if held {
		v = 1
	}
	LocksHeld.WithLabelValues(lock).Set(v)
}

// RecordRemoteRequest records a remote lock service call duration.
func RecordRemoteRequest(backend, op string, seconds float64) {
	RemoteRequestDuration.WithLabelValues(backend, op).Observe(seconds)
}

// RecordElectionRun records the role an election run ended in.
func RecordElectionRun(election, role string) {
	ElectionRuns.WithLabelValues(election, role).Inc()
}
