package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// EndpointMetrics contains Prometheus metrics for the remote sync endpoint.
type EndpointMetrics struct {
	BatchesReceived  prometheus.Counter
	DocumentsSaved   prometheus.Counter
	DocumentErrors   prometheus.Counter
	ImagesStored     prometheus.Counter
	UploadRejections prometheus.Counter
}

// NewEndpointMetrics creates a new instance of EndpointMetrics registered on
// the given registry.
func NewEndpointMetrics(registry *prometheus.Registry) (*EndpointMetrics, error) {
	m := &EndpointMetrics{
		BatchesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "endpoint_batches_received_total",
			Help: "Total number of batch submissions received",
		}),
		DocumentsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "endpoint_documents_saved_total",
			Help: "Total number of scan documents persisted",
		}),
		DocumentErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "endpoint_document_errors_total",
			Help: "Total number of per-item document failures",
		}),
		ImagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "endpoint_images_stored_total",
			Help: "Total number of uploaded images written to the public directory",
		}),
		UploadRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "endpoint_upload_rejections_total",
			Help: "Total number of rejected image uploads",
		}),
	}

	collectors := []prometheus.Collector{
		m.BatchesReceived, m.DocumentsSaved, m.DocumentErrors,
		m.ImagesStored, m.UploadRejections,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register endpoint metric: %w", err)
		}
	}
	return m, nil
}
