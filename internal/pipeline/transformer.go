package pipeline

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"eeg-io-engine/internal/ndarray"
	"eeg-io-engine/internal/types"
)

// Transform maps one array to another. Used for the offline, online and
// before-trial hooks.
type Transform func(ndarray.Array) (ndarray.Array, error)

// LabelTransform maps a metadata row to the label returned by the dataset.
type LabelTransform func(types.Row) (any, error)

// AfterTrialHook rewrites the transformed records of one block.
type AfterTrialHook func([]types.Record) ([]types.Record, error)

// Hooks are the build-time callables applied to every block.
type Hooks struct {
	Offline     Transform
	BeforeTrial Transform
	AfterTrial  AfterTrialHook
}

// SampleTransformer turns one block into records and hands them to the
// RecordWriter. It never touches the stores itself.
type SampleTransformer struct {
	hooks  Hooks
	writer *RecordWriter
	logger log.FieldLogger

	// trial is reused across blocks handled by the same executor.
	trial []types.Record
}

func NewSampleTransformer(hooks Hooks, writer *RecordWriter, logger log.FieldLogger) *SampleTransformer {
	return &SampleTransformer{hooks: hooks, writer: writer, logger: logger}
}

// Process transforms and writes every sample of block, returning the number
// of raw samples consumed.
func (t *SampleTransformer) Process(ctx context.Context, block types.Block) (int, error) {
	x, err := ndarray.Load(block.SamplePath)
	if err != nil {
		return 0, classify(ErrStore, errors.Wrapf(err, "block %d: load samples", block.ID))
	}
	y, err := ndarray.Load(block.LabelPath)
	if err != nil {
		return 0, classify(ErrStore, errors.Wrapf(err, "block %d: load labels", block.ID))
	}
	if err := checkLabels(x, y); err != nil {
		return 0, configErrorf("block %d: %v", block.ID, err)
	}
	n := x.Len()

	if t.hooks.BeforeTrial != nil {
		out, err := t.hooks.BeforeTrial(x)
		if err != nil {
			return 0, classify(ErrTransform, errors.Wrapf(err, "block %d: before_trial", block.ID))
		}
		if !ndarray.SameShape(out, x) || out.Size() != x.Size() {
			return 0, transformErrorf("block %d: before_trial changed shape %v to %v", block.ID, x.Shape, out.Shape)
		}
		x = out
	}

	labelCols := 1
	if y.Dims() == 2 {
		labelCols = y.Shape[1]
	}

	t.trial = t.trial[:0]
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		signal := x.At(i)
		if t.hooks.Offline != nil {
			signal, err = t.hooks.Offline(signal)
			if err != nil {
				return 0, classify(ErrTransform, errors.Wrapf(err, "block %d sample %d: offline transform", block.ID, i))
			}
		}

		clipID := types.ClipID(block.ID, i)
		info := types.Row{types.ClipIDKey: clipID}
		for j := 0; j < labelCols; j++ {
			info[strconv.Itoa(j)] = y.Data[i*labelCols+j]
		}

		if t.hooks.AfterTrial == nil {
			if err := t.writer.Write(ctx, signal, clipID, info); err != nil {
				return 0, err
			}
			continue
		}
		t.trial = append(t.trial, types.Record{Signal: signal, Key: clipID, Info: info})
	}

	if t.hooks.AfterTrial != nil && len(t.trial) > 0 {
		records, err := t.hooks.AfterTrial(t.trial)
		if err != nil {
			return 0, classify(ErrTransform, errors.Wrapf(err, "block %d: after_trial", block.ID))
		}
		for i, rec := range records {
			if err := validateRecord(rec); err != nil {
				return 0, transformErrorf("block %d: after_trial record %d: %v", block.ID, i, err)
			}
		}
		for _, rec := range records {
			if err := t.writer.Write(ctx, rec.Signal, rec.Key, rec.Info); err != nil {
				return 0, err
			}
		}
		t.logger.WithFields(log.Fields{
			"block":  block.ID,
			"input":  len(t.trial),
			"output": len(records),
		}).Debug("after_trial applied")
	}

	return n, nil
}

func checkLabels(x, y ndarray.Array) error {
	if x.Dims() == 0 {
		return errors.New("sample array has no leading dimension")
	}
	if y.Dims() != 1 && y.Dims() != 2 {
		return errors.Errorf("label array must be 1-D or 2-D, got shape %v", y.Shape)
	}
	if y.Len() != x.Len() {
		return errors.Errorf("%d samples but %d label rows", x.Len(), y.Len())
	}
	return nil
}

// validateRecord enforces that an after_trial record carries a signal, a key
// and a metadata row whose clip_id points at that key. A signal with a
// zero-length axis is present; only the zero Array counts as missing.
func validateRecord(rec types.Record) error {
	switch {
	case rec.Signal.Dims() == 0 && rec.Signal.Empty():
		return errors.New("missing eeg signal")
	case rec.Key == "":
		return errors.New("missing key")
	case rec.Info == nil:
		return errors.New("missing info")
	case rec.Info.ClipID() != rec.Key:
		return errors.Errorf("info clip_id %q does not match key %q", rec.Info.ClipID(), rec.Key)
	}
	return nil
}
