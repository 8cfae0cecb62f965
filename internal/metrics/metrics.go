// Package metrics provides Prometheus instrumentation for the archival pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline outcome label values.
const (
	OutcomeArchived  = "archived"
	OutcomeDuplicate = "duplicate"
	OutcomeNotVideo  = "not_video"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

var (
	once sync.Once

	// Counters
	PipelineOutcomes *prometheus.CounterVec // label: outcome
	RetrievedBytes   *prometheus.CounterVec // label: backend
	RetrievalErrors  *prometheus.CounterVec // label: backend
	Encodes          *prometheus.CounterVec // label: result
	Deliveries       *prometheus.CounterVec // label: result

	// Histograms (seconds)
	RetrievalDuration *prometheus.HistogramVec // label: backend
	EncodeDuration    prometheus.Observer

	// Gauges
	QueueDepthGauge    prometheus.Gauge
	ActiveEncodesGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PipelineOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clipvault_pipeline_outcomes_total", Help: "Pipeline invocations by terminal outcome"}, []string{"outcome"})
		RetrievedBytes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clipvault_retrieved_bytes_total", Help: "Bytes written to scratch storage by retrieval backend"}, []string{"backend"})
		RetrievalErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clipvault_retrieval_errors_total", Help: "Failed retrievals by backend"}, []string{"backend"})
		Encodes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clipvault_encodes_total", Help: "Two-pass encodes by result"}, []string{"result"})
		Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clipvault_deliveries_total", Help: "File deliveries to chat channels by result"}, []string{"result"})
		RetrievalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "clipvault_retrieval_duration_seconds", Help: "Retrieval duration seconds", Buckets: prometheus.DefBuckets}, []string{"backend"})
		EncodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clipvault_encode_duration_seconds", Help: "Two-pass encode duration seconds", Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900}})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "clipvault_queue_depth", Help: "Jobs waiting for a worker"})
		ActiveEncodesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "clipvault_active_encodes", Help: "Encodes currently holding a transcode slot"})
	})
}

// RecordOutcome increments the pipeline outcome counter.
func RecordOutcome(outcome string) {
	if PipelineOutcomes != nil {
		PipelineOutcomes.WithLabelValues(outcome).Inc()
	}
}

// RecordRetrieval records a retrieval attempt for backend.
func RecordRetrieval(backend string, bytes int64, d time.Duration, err error) {
	if RetrievalDuration == nil {
		return
	}
	RetrievalDuration.WithLabelValues(backend).Observe(d.Seconds())
	if err != nil {
		RetrievalErrors.WithLabelValues(backend).Inc()
		return
	}
	RetrievedBytes.WithLabelValues(backend).Add(float64(bytes))
}

// RecordEncode records a finished encode.
func RecordEncode(d time.Duration, err error) {
	if Encodes == nil {
		return
	}
	EncodeDuration.Observe(d.Seconds())
	Encodes.WithLabelValues(result(err)).Inc()
}

// RecordDelivery records a file send.
func RecordDelivery(err error) {
	if Deliveries != nil {
		Deliveries.WithLabelValues(result(err)).Inc()
	}
}

// SetQueueDepth records the current number of queued jobs.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// EncodeStarted and EncodeFinished track transcode slot usage.
func EncodeStarted() {
	if ActiveEncodesGauge != nil {
		ActiveEncodesGauge.Inc()
	}
}

func EncodeFinished() {
	if ActiveEncodesGauge != nil {
		ActiveEncodesGauge.Dec()
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
