// Package metrics provides custom Prometheus metrics for the scan
// synchronization subsystem.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics contains all Prometheus metrics related to sync passes.
type SyncMetrics struct {
	PassesTotal      prometheus.Counter
	PassesDropped    prometheus.Counter
	RecordsSynced    prometheus.Counter
	RecordsFailed    prometheus.Counter
	ImagesUploaded   prometheus.Counter
	ImageUploadFails prometheus.Counter
	BatchSize        prometheus.Histogram
	PassDuration     prometheus.Histogram
}

// NewSyncMetrics creates a new instance of SyncMetrics registered on the
// given registry.
func NewSyncMetrics(registry *prometheus.Registry) (*SyncMetrics, error) {
	m := &SyncMetrics{
		PassesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_passes_total",
			Help: "Total number of sync passes started",
		}),
		PassesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_passes_dropped_total",
			Help: "Total number of sync triggers dropped because a pass was already in flight",
		}),
		RecordsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_records_synced_total",
			Help: "Total number of records durably accepted by the remote repository",
		}),
		RecordsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_records_failed_total",
			Help: "Total number of per-record sync failures",
		}),
		ImagesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_images_uploaded_total",
			Help: "Total number of images durably uploaded",
		}),
		ImageUploadFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_image_upload_failures_total",
			Help: "Total number of failed image uploads",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sync_batch_size",
			Help:    "Number of payloads per batch submission",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sync_pass_duration_seconds",
			Help:    "Duration of sync passes in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		m.PassesTotal, m.PassesDropped, m.RecordsSynced, m.RecordsFailed,
		m.ImagesUploaded, m.ImageUploadFails, m.BatchSize, m.PassDuration,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register sync metric: %w", err)
		}
	}
	return m, nil
}
