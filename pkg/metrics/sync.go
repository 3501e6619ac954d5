package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncMetrics collects sync engine, upload session, and event bus metrics.
//
// A nil *SyncMetrics is valid and records nothing, so callers never need to
// guard their recording calls:
//
//	m := metrics.NewSyncMetrics() // nil when metrics are disabled
//	m.RecordSync("upload", "SUCCESS", elapsed, size)
type SyncMetrics struct {
	syncOperations  *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
	syncBytes       prometheus.Histogram
	activeSessions  prometheus.Gauge
	sessionOutcomes *prometheus.CounterVec
	chunksReceived  prometheus.Counter
	subscribers     prometheus.Gauge
	eventsPublished *prometheus.CounterVec
}

// NewSyncMetrics creates a Prometheus-backed SyncMetrics instance.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewSyncMetrics() *SyncMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &SyncMetrics{
		syncOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftsync_sync_operations_total",
				Help: "Total number of sync submissions by operation and outcome",
			},
			[]string{"operation", "outcome"}, // operation: "upload", "delete"
		),
		syncDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "driftsync_sync_duration_seconds",
				Help:    "Duration of sync submissions in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"operation"},
		),
		syncBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "driftsync_sync_upload_bytes",
				Help: "Distribution of uploaded file sizes in bytes",
				Buckets: []float64{
					1024,       // 1KB
					32768,      // 32KB
					1048576,    // 1MB
					4194304,    // 4MB - direct upload limit region
					33554432,   // 32MB
					268435456,  // 256MB
					1073741824, // 1GB
				},
			},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "driftsync_upload_sessions_active",
				Help: "Number of chunked upload sessions currently in progress",
			},
		),
		sessionOutcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftsync_upload_sessions_total",
				Help: "Total number of chunked upload sessions by terminal status",
			},
			[]string{"status"}, // COMPLETED, CANCELLED, FAILED, EXPIRED
		),
		chunksReceived: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "driftsync_upload_chunks_received_total",
				Help: "Total number of chunks accepted across all sessions",
			},
		),
		subscribers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "driftsync_bus_subscribers",
				Help: "Number of connected realtime subscribers",
			},
		),
		eventsPublished: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftsync_bus_events_published_total",
				Help: "Total number of sync events fanned out by event type",
			},
			[]string{"type"},
		),
	}
}

// RecordSync records a completed sync submission.
func (m *SyncMetrics) RecordSync(operation, outcome string, duration time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.syncOperations.WithLabelValues(operation, outcome).Inc()
	m.syncDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if operation == "upload" && bytes > 0 {
		m.syncBytes.Observe(float64(bytes))
	}
}

// SessionStarted increments the active chunked session gauge.
func (m *SyncMetrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionEnded decrements the active gauge and records the terminal status.
func (m *SyncMetrics) SessionEnded(status string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionOutcomes.WithLabelValues(status).Inc()
}

// ChunkReceived counts one accepted chunk.
func (m *SyncMetrics) ChunkReceived() {
	if m == nil {
		return
	}
	m.chunksReceived.Inc()
}

// SubscriberConnected increments the realtime subscriber gauge.
func (m *SyncMetrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

// SubscriberDisconnected decrements the realtime subscriber gauge.
func (m *SyncMetrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

// EventPublished counts one fanned-out sync event.
func (m *SyncMetrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}
