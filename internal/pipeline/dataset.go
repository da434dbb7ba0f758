package pipeline

import (
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"eeg-io-engine/internal/metrics"
	"eeg-io-engine/internal/ndarray"
	"eeg-io-engine/internal/storage"
	"eeg-io-engine/internal/types"
)

// DatasetOptions configure the read path.
type DatasetOptions struct {
	OnlineTransform Transform
	LabelTransform  LabelTransform

	// IOMode overrides the backend recorded in the manifest.
	IOMode storage.Mode

	// InMemory loads every signal on first access and serves later reads
	// from memory.
	InMemory bool

	Logger  log.FieldLogger
	Metrics *metrics.Metrics
}

// Dataset is a read-only random-access view over a materialized dataset.
type Dataset struct {
	ioPath  string
	mode    storage.Mode
	signals storage.SignalStore
	meta    storage.MetadataStore
	opts    DatasetOptions

	// serial guards reads on backends without concurrent reader support.
	serial sync.Mutex

	cacheOnce sync.Once
	cache     map[string]ndarray.Array
	cacheErr  error
}

// OpenDataset opens the stores under ioPath read-only.
func OpenDataset(ioPath string, opts DatasetOptions) (*Dataset, error) {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}

	mode := opts.IOMode
	if mode == "" {
		m, err := ReadManifest(ioPath)
		if err != nil {
			return nil, classify(ErrStore, err)
		}
		mode = storage.Mode(m.IOMode)
	}
	if _, err := storage.ParseMode(string(mode)); err != nil {
		return nil, classify(ErrConfiguration, err)
	}

	signals, err := storage.OpenSignalStore(filepath.Join(ioPath, signalDir), 0, mode, storage.Options{ReadOnly: true})
	if err != nil {
		return nil, classify(ErrStore, errors.Wrap(err, "open signal store"))
	}
	meta, err := storage.NewBoltMetadataStore(filepath.Join(ioPath, metadataFile), true)
	if err != nil {
		_ = signals.Close()
		return nil, classify(ErrStore, errors.Wrap(err, "open metadata store"))
	}

	return &Dataset{
		ioPath:  ioPath,
		mode:    mode,
		signals: signals,
		meta:    meta,
		opts:    opts,
	}, nil
}

// Len is the number of persisted metadata rows.
func (d *Dataset) Len() int {
	return int(d.meta.Count())
}

// Row returns the metadata row at index.
func (d *Dataset) Row(index int) (types.Row, error) {
	if index < 0 || index >= d.Len() {
		return nil, classify(ErrIndex, errors.Errorf("index %d out of range [0, %d)", index, d.Len()))
	}
	row, err := d.meta.Get(uint64(index))
	if err != nil {
		return nil, classify(ErrStore, err)
	}
	return row, nil
}

// Get returns the (signal, label) pair at index. Without a label transform
// the label is the raw metadata row.
func (d *Dataset) Get(index int) (ndarray.Array, any, error) {
	signal, label, err := d.get(index)
	d.opts.Metrics.RecordRead(err == nil)
	return signal, label, err
}

func (d *Dataset) get(index int) (ndarray.Array, any, error) {
	row, err := d.Row(index)
	if err != nil {
		return ndarray.Array{}, nil, err
	}

	signal, err := d.readSignal(row.ClipID())
	if err != nil {
		return ndarray.Array{}, nil, err
	}

	if d.opts.OnlineTransform != nil {
		signal, err = d.opts.OnlineTransform(signal)
		if err != nil {
			return ndarray.Array{}, nil, classify(ErrTransform, errors.Wrapf(err, "online transform of %s", row.ClipID()))
		}
	}

	var label any = row
	if d.opts.LabelTransform != nil {
		label, err = d.opts.LabelTransform(row)
		if err != nil {
			return ndarray.Array{}, nil, classify(ErrTransform, errors.Wrapf(err, "label transform of %s", row.ClipID()))
		}
	}
	return signal, label, nil
}

func (d *Dataset) readSignal(key string) (ndarray.Array, error) {
	if d.opts.InMemory {
		d.cacheOnce.Do(d.loadCache)
		if d.cacheErr != nil {
			return ndarray.Array{}, d.cacheErr
		}
		a, ok := d.cache[key]
		if !ok {
			return ndarray.Array{}, classify(ErrStore, errors.Wrapf(storage.ErrKeyNotFound, "signal %s", key))
		}
		// Callers may mutate the result; keep the cache pristine.
		return a.Clone(), nil
	}

	if !d.signals.ConcurrentReaders() {
		d.serial.Lock()
		defer d.serial.Unlock()
	}
	a, err := d.signals.Read(key)
	if err != nil {
		return ndarray.Array{}, classify(ErrStore, errors.Wrapf(err, "signal %s", key))
	}
	return a, nil
}

func (d *Dataset) loadCache() {
	keys, err := d.signals.Keys()
	if err != nil {
		d.cacheErr = classify(ErrStore, errors.Wrap(err, "list signals"))
		return
	}
	cache := make(map[string]ndarray.Array, len(keys))
	for _, k := range keys {
		a, err := d.signals.Read(k)
		if err != nil {
			d.cacheErr = classify(ErrStore, errors.Wrapf(err, "signal %s", k))
			return
		}
		cache[k] = a
	}
	d.cache = cache
	d.opts.Logger.WithFields(log.Fields{"io_path": d.ioPath, "signals": len(cache)}).Debug("dataset loaded into memory")
}

// Info returns every metadata row in persisted order.
func (d *Dataset) Info() ([]types.Row, error) {
	rows, err := d.meta.All()
	if err != nil {
		return nil, classify(ErrStore, err)
	}
	return rows, nil
}

// ConcurrentReaders reports whether the signal backend serves parallel reads.
func (d *Dataset) ConcurrentReaders() bool {
	return d.signals.ConcurrentReaders()
}

// Description summarizes an open dataset.
type Description struct {
	IOPath   string `json:"io_path"`
	IOMode   string `json:"io_mode"`
	Records  int    `json:"records"`
	Signals  uint64 `json:"signals"`
	InMemory bool   `json:"in_memory"`
}

func (d *Dataset) Describe() Description {
	return Description{
		IOPath:   d.ioPath,
		IOMode:   string(d.mode),
		Records:  d.Len(),
		Signals:  d.signals.Count(),
		InMemory: d.opts.InMemory,
	}
}

func (d *Dataset) Close() error {
	errSignals := d.signals.Close()
	errMeta := d.meta.Close()
	if errSignals != nil {
		return errSignals
	}
	return errMeta
}
