package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"eeg-io-engine/internal/metrics"
	"eeg-io-engine/internal/ndarray"
	"eeg-io-engine/internal/storage"
	"eeg-io-engine/internal/types"
)

// RecordWriter funnels every store mutation through one lock spanning both
// stores, so a record's signal and metadata row are written as a unit and two
// writers never interleave.
type RecordWriter struct {
	mu      sync.Mutex
	signals storage.SignalStore
	meta    storage.MetadataStore
	metrics *metrics.Metrics
}

func NewRecordWriter(signals storage.SignalStore, meta storage.MetadataStore, m *metrics.Metrics) *RecordWriter {
	return &RecordWriter{signals: signals, meta: meta, metrics: m}
}

// Write appends signal under key and info as a metadata row. info is encoded
// before either store is touched, so a row that cannot be stored leaves no
// signal behind.
func (w *RecordWriter) Write(ctx context.Context, signal ndarray.Array, key string, info types.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row, err := storage.EncodeRow(info)
	if err != nil {
		return classify(ErrTransform, errors.Wrapf(err, "metadata row %s", key))
	}

	start := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics.ObserveLockWait(time.Since(start))

	if err := w.signals.Write(key, signal); err != nil {
		return classify(ErrStore, errors.Wrapf(err, "write signal %s", key))
	}
	if _, err := w.meta.Append(row); err != nil {
		return classify(ErrStore, errors.Wrapf(err, "write metadata row %s (signal already stored)", key))
	}
	w.metrics.RecordWritten()
	return nil
}

// Counts returns the signal and metadata record counts under the write lock.
func (w *RecordWriter) Counts() (signals, rows uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.signals.Count(), w.meta.Count()
}

// reconcile folds a signal/row count mismatch into the outcome of a run. A
// mismatch is always an ErrStore, even when the run already failed for
// another reason.
func reconcile(runErr error, nSignals, nRows uint64) error {
	if nSignals == nRows {
		return runErr
	}
	msg := "store mismatch: %d signals vs %d metadata rows"
	if runErr == nil {
		return classify(ErrStore, errors.Errorf(msg, nSignals, nRows))
	}
	return classify(ErrStore, errors.Wrapf(runErr, msg, nSignals, nRows))
}
