// Package pipeline materializes raw EEG arrays into an indexed on-disk
// dataset and reads it back.
//
// A build plans the input into blocks, fans the blocks out to a bounded
// worker pool, transforms every sample and commits (signal, metadata) pairs
// through a single RecordWriter. The resulting directory holds:
//
//	info.db        bbolt metadata table, one row per sample
//	eeg/           signal store (mmap, badger or file backend)
//	manifest.yaml  backend and build parameters
//	tmp/           per-block dumps, only while an array-input build runs
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"eeg-io-engine/internal/metrics"
	"eeg-io-engine/internal/ndarray"
	"eeg-io-engine/internal/storage"
	"eeg-io-engine/internal/types"
)

const (
	DefaultIOSize              = 10 << 20
	DefaultNumSamplesPerWorker = 100
)

// Options configure a build.
type Options struct {
	IOPath      string
	IOSize      int64
	IOMode      storage.Mode
	Compression ndarray.Compression

	NumWorker           int
	NumSamplesPerWorker int

	Verbose bool
	KeepTmp bool

	Hooks Hooks

	Logger   log.FieldLogger
	Metrics  *metrics.Metrics
	Progress ProgressFunc
}

func (o *Options) applyDefaults() {
	if o.IOMode == "" {
		o.IOMode = storage.ModeMmap
	}
	if o.NumSamplesPerWorker == 0 {
		o.NumSamplesPerWorker = DefaultNumSamplesPerWorker
	}
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}
}

func (o *Options) validate() error {
	if o.IOPath == "" {
		return configErrorf("io_path must be set")
	}
	if o.NumWorker < 0 {
		return configErrorf("num_worker must be >= 0, got %d", o.NumWorker)
	}
	if o.NumSamplesPerWorker < 0 {
		return configErrorf("num_samples_per_worker must be positive, got %d", o.NumSamplesPerWorker)
	}
	if o.IOSize < 0 {
		return configErrorf("io_size must be >= 0, got %d", o.IOSize)
	}
	if _, err := storage.ParseMode(string(o.IOMode)); err != nil {
		return classify(ErrConfiguration, err)
	}
	return nil
}

// Result summarizes a successful build.
type Result struct {
	Blocks  int
	Records uint64
	Elapsed time.Duration
}

// Build materializes raw into opts.IOPath. The target must not already hold
// a dataset; call Clear first to rebuild in place.
func Build(ctx context.Context, raw RawDataset, opts Options) (*Result, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	if Exists(opts.IOPath) {
		return nil, configErrorf("%s already contains a dataset; use a fresh io_path or clear it first", opts.IOPath)
	}

	start := time.Now()
	logger := opts.Logger.WithField("io_path", opts.IOPath)

	planner := BlockPlanner{
		TmpDir:          filepath.Join(opts.IOPath, tmpDir),
		SamplesPerBlock: opts.NumSamplesPerWorker,
	}
	blocks, err := planner.Plan(raw)
	if err != nil {
		return nil, err
	}
	logger.WithFields(log.Fields{
		"blocks":     len(blocks),
		"num_worker": opts.NumWorker,
		"io_mode":    opts.IOMode,
	}).Info("planned dataset build")

	signals, err := storage.OpenSignalStore(
		filepath.Join(opts.IOPath, signalDir),
		opts.IOSize,
		opts.IOMode,
		storage.Options{Compression: opts.Compression},
	)
	if err != nil {
		return nil, classify(ErrStore, errors.Wrap(err, "open signal store"))
	}
	defer signals.Close()

	meta, err := storage.NewBoltMetadataStore(filepath.Join(opts.IOPath, metadataFile), false)
	if err != nil {
		return nil, classify(ErrStore, errors.Wrap(err, "open metadata store"))
	}
	defer meta.Close()

	writer := NewRecordWriter(signals, meta, opts.Metrics)

	pool := &WorkerPool{
		NumWorker: opts.NumWorker,
		Quota:     opts.NumSamplesPerWorker,
		Logger:    logger,
		Progress:  progressReporter(logger, opts),
		NewExecutor: func() BlockFunc {
			t := NewSampleTransformer(opts.Hooks, writer, logger)
			return func(ctx context.Context, b types.Block) (int, error) {
				blockStart := time.Now()
				n, err := t.Process(ctx, b)
				if err != nil {
					opts.Metrics.RecordFailure(errorClass(err))
					return n, err
				}
				opts.Metrics.RecordBlockDone(n)
				logger.WithFields(log.Fields{
					"block":   b.ID,
					"samples": n,
					"elapsed": time.Since(blockStart),
				}).Debug("block written")
				return n, nil
			}
		},
	}

	runErr := pool.Run(ctx, blocks)

	nSignals, nRows := writer.Counts()
	if err := reconcile(runErr, nSignals, nRows); err != nil {
		logger.WithError(err).WithFields(log.Fields{
			"signals": nSignals,
			"rows":    nRows,
		}).Error("dataset build failed")
		return nil, err
	}

	if raw.isArrays() && !opts.KeepTmp {
		if err := os.RemoveAll(planner.TmpDir); err != nil {
			logger.WithError(err).Warn("failed to remove temporary blocks")
		}
	}

	res := &Result{Blocks: len(blocks), Records: nRows, Elapsed: time.Since(start)}
	err = writeManifest(opts.IOPath, Manifest{
		IOMode:              string(opts.IOMode),
		IOSize:              opts.IOSize,
		Compression:         opts.Compression.String(),
		NumWorker:           opts.NumWorker,
		NumSamplesPerWorker: opts.NumSamplesPerWorker,
		Blocks:              res.Blocks,
		Records:             res.Records,
		CreatedAt:           time.Now().UTC(),
	})
	if err != nil {
		return nil, classify(ErrStore, err)
	}

	logger.WithFields(log.Fields{
		"blocks":  res.Blocks,
		"records": res.Records,
		"elapsed": res.Elapsed,
	}).Info("dataset build finished")
	return res, nil
}

func progressReporter(logger log.FieldLogger, opts Options) ProgressFunc {
	return func(done, total int) {
		if opts.Verbose {
			logger.WithFields(log.Fields{"done": done, "total": total}).Info("blocks processed")
		}
		if opts.Progress != nil {
			opts.Progress(done, total)
		}
	}
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrTransform):
		return "transform"
	case errors.Is(err, ErrStore):
		return "store"
	default:
		return "other"
	}
}
