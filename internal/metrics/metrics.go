// Package metrics holds the Prometheus collectors recorded by the upload
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cdn"

// Upload outcomes used as the "result" label.
const (
	ResultStored   = "stored"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

// Metrics groups the upload collectors. A nil *Metrics records nothing.
type Metrics struct {
	Uploads        *prometheus.CounterVec
	BytesWritten   prometheus.Counter
	UploadDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total upload requests by result.",
		}, []string{"result"}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Total bytes written to storage by successful uploads.",
		}),
		UploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Time spent handling upload requests.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Uploads, m.BytesWritten, m.UploadDuration)
	return m
}

// ObserveUpload records the outcome of one upload request.
func (m *Metrics) ObserveUpload(result string, bytes int64, seconds float64) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.BytesWritten.Add(float64(bytes))
	}
	m.UploadDuration.Observe(seconds)
}
