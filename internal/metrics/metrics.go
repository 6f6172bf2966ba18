// Package metrics declares the prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_stream_status",
			Help: "1 for the stream's current persisted status, 0 otherwise",
		},
		[]string{"status"},
	)

	StreamPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_stream_phase",
			Help: "1 for the supervisor's current lifecycle phase, 0 otherwise",
		},
		[]string{"phase"},
	)

	StreamTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_stream_transitions_total",
			Help: "Supervisor phase transitions",
		},
		[]string{"from", "to"},
	)

	StreamRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_stream_restarts_total",
			Help: "Automatic encoder restarts by reason (retry, next_track, loop)",
		},
		[]string{"reason"},
	)

	EncoderExits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_encoder_exits_total",
			Help: "Encoder exits by kind (clean, crash, stopped)",
		},
		[]string{"kind"},
	)

	OrphansReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_orphans_reconciled_total",
			Help: "Boot-time reconciliation outcomes",
		},
		[]string{"outcome"},
	)

	StorageResolves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_storage_resolve_total",
			Help: "Media reference resolutions by result",
		},
		[]string{"result"},
	)

	StorageResolveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_storage_resolve_duration_seconds",
			Help:    "Latency of media reference resolution",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	StorageUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_storage_uploads_total",
			Help: "Media uploads by result",
		},
		[]string{"result"},
	)

	StorageUploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_storage_upload_bytes_total",
			Help: "Bytes written to the media bucket by successful uploads",
		},
	)

	StorageBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_storage_breaker_state",
			Help: "Storage circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

var (
	allStatuses = []domain.Status{domain.StatusStopped, domain.StatusRunning, domain.StatusError}
	allPhases   = []domain.Phase{
		domain.PhaseStopped, domain.PhaseStarting, domain.PhaseRunning, domain.PhaseStopping,
		domain.PhaseCrashed, domain.PhaseBackoff, domain.PhaseError,
	}
)

// SetStatus marks s as the single active status.
func SetStatus(s domain.Status) {
	for _, v := range allStatuses {
		val := 0.0
		if v == s {
			val = 1
		}
		StreamStatus.WithLabelValues(string(v)).Set(val)
	}
}

// RecordTransition moves the phase gauge and counts the edge.
func RecordTransition(from, to domain.Phase) {
	StreamTransitions.WithLabelValues(string(from), string(to)).Inc()
	for _, v := range allPhases {
		val := 0.0
		if v == to {
			val = 1
		}
		StreamPhase.WithLabelValues(string(v)).Set(val)
	}
}

// ObserveResolve records one resolution attempt.
func ObserveResolve(result string, d time.Duration) {
	StorageResolves.WithLabelValues(result).Inc()
	StorageResolveDuration.Observe(d.Seconds())
}

// ObserveUpload records one upload attempt and, on success, its size.
func ObserveUpload(result string, size int64) {
	StorageUploads.WithLabelValues(result).Inc()
	if result == "ok" {
		StorageUploadBytes.Add(float64(size))
	}
}
