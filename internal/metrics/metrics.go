// Package metrics exposes Prometheus instrumentation for dataset builds and
// reads. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	blocksDone     prometheus.Counter
	samplesDone    prometheus.Counter
	recordsWritten prometheus.Counter
	lockWait       prometheus.Histogram
	failures       *prometheus.CounterVec
	reads          *prometheus.CounterVec
}

// NewRegistry returns a registry preloaded with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New registers the engine metrics on reg. Returns nil when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	return &Metrics{
		blocksDone: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "eegio_blocks_completed_total",
			Help: "Number of blocks fully transformed and written",
		}),
		samplesDone: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "eegio_block_samples_total",
			Help: "Number of raw samples consumed by completed blocks",
		}),
		recordsWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "eegio_records_written_total",
			Help: "Number of (signal, metadata) records committed to the stores",
		}),
		lockWait: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "eegio_write_lock_wait_seconds",
			Help:    "Time spent waiting for the shared record write lock",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		failures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "eegio_block_failures_total",
				Help: "Number of failed blocks by error class",
			},
			[]string{"class"}, // "configuration", "transform", "store", "other"
		),
		reads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "eegio_dataset_reads_total",
				Help: "Number of dataset reads by outcome",
			},
			[]string{"outcome"}, // "ok", "error"
		),
	}
}

func (m *Metrics) RecordBlockDone(samples int) {
	if m == nil {
		return
	}
	m.blocksDone.Inc()
	m.samplesDone.Add(float64(samples))
}

func (m *Metrics) RecordWritten() {
	if m == nil {
		return
	}
	m.recordsWritten.Inc()
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

func (m *Metrics) RecordFailure(class string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(class).Inc()
}

func (m *Metrics) RecordRead(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.reads.WithLabelValues(outcome).Inc()
}
