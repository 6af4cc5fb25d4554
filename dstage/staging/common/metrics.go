package common

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects pipeline counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ChunksSealed      prometheus.Counter
	SamplesAccepted   prometheus.Counter
	BytesCopied       prometheus.Counter
	Merges            prometheus.Counter
	ArchivesBelow     prometheus.Gauge
	ArchivesUploaded  prometheus.Counter
	UploadFailures    prometheus.Counter
	PoolTaskFailures  *prometheus.CounterVec
	PhaseDurationSecs *prometheus.HistogramVec
}

// NewMetrics creates and registers the pipeline metrics. Passing a nil
// registerer creates unregistered collectors, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunksSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dstage",
			Name:      "chunks_sealed_total",
			Help:      "Number of chunks sealed and archived",
		}),
		SamplesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dstage",
			Name:      "samples_accepted_total",
			Help:      "Number of samples accepted by the chunk builder",
		}),
		BytesCopied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dstage",
			Name:      "bytes_copied_total",
			Help:      "Bytes copied into chunk directories",
		}),
		Merges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dstage",
			Name:      "archive_merges_total",
			Help:      "Number of archive merges performed by the rebalancer",
		}),
		ArchivesBelow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dstage",
			Name:      "archives_below_threshold",
			Help:      "Archives below the size threshold after the last rebalance",
		}),
		ArchivesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dstage",
			Name:      "archives_uploaded_total",
			Help:      "Archives successfully uploaded",
		}),
		UploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dstage",
			Name:      "upload_failures_total",
			Help:      "Archive uploads that failed",
		}),
		PoolTaskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dstage",
			Name:      "pool_task_failures_total",
			Help:      "Failed copy/move tasks by operation",
		}, []string{"operation"}),
		PhaseDurationSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dstage",
			Name:      "phase_duration_seconds",
			Help:      "Duration of pipeline phases",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"phase"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ChunksSealed,
			m.SamplesAccepted,
			m.BytesCopied,
			m.Merges,
			m.ArchivesBelow,
			m.ArchivesUploaded,
			m.UploadFailures,
			m.PoolTaskFailures,
			m.PhaseDurationSecs,
		)
	}

	return m
}

func (m *Metrics) IncChunksSealed() {
	if m != nil {
		m.ChunksSealed.Inc()
	}
}

func (m *Metrics) IncSamples() {
	if m != nil {
		m.SamplesAccepted.Inc()
	}
}

func (m *Metrics) AddBytesCopied(n int64) {
	if m != nil && n > 0 {
		m.BytesCopied.Add(float64(n))
	}
}

func (m *Metrics) IncMerges() {
	if m != nil {
		m.Merges.Inc()
	}
}

func (m *Metrics) SetArchivesBelow(n int) {
	if m != nil {
		m.ArchivesBelow.Set(float64(n))
	}
}

func (m *Metrics) IncUploaded() {
	if m != nil {
		m.ArchivesUploaded.Inc()
	}
}

func (m *Metrics) IncUploadFailures() {
	if m != nil {
		m.UploadFailures.Inc()
	}
}

func (m *Metrics) IncPoolTaskFailure(op string) {
	if m != nil {
		m.PoolTaskFailures.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) ObservePhase(phase string, seconds float64) {
	if m != nil {
		m.PhaseDurationSecs.WithLabelValues(phase).Observe(seconds)
	}
}
