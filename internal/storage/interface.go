package storage

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"eeg-io-engine/internal/ndarray"
	"eeg-io-engine/internal/types"
)

var (
	// ErrCapacityExceeded is returned when a write would grow a signal store
	// past its configured capacity. Reopen with a larger capacity and rebuild.
	ErrCapacityExceeded = errors.New("signal store capacity exceeded")
	ErrKeyNotFound      = errors.New("key not found")
	ErrDuplicateKey     = errors.New("key already written")
	ErrInvalidKey       = errors.New("invalid key")
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrReadOnly         = errors.New("store opened read-only")
)

// SignalStore is an append-only key -> array store.
type SignalStore interface {
	// Write stores arr under key. Keys are write-once.
	Write(key string, arr ndarray.Array) error

	// Read returns the array stored under key.
	Read(key string) (ndarray.Array, error)

	// Count returns the number of stored entries.
	Count() uint64

	// Keys lists every stored key.
	Keys() ([]string, error)

	// ConcurrentReaders reports whether Read may be called from several
	// goroutines at once.
	ConcurrentReaders() bool

	// Close flushes and closes the store.
	Close() error
}

// MetadataStore is an append-only ordered table of rows.
type MetadataStore interface {
	// Append adds a row produced by EncodeRow and returns its index.
	Append(row EncodedRow) (uint64, error)

	// Get returns the row at index in persisted order.
	Get(index uint64) (types.Row, error)

	// Count returns the number of rows.
	Count() uint64

	// All returns every row in persisted order.
	All() ([]types.Row, error)

	Close() error
}

// Mode selects the signal store backend.
type Mode string

const (
	ModeMmap   Mode = "mmap"
	ModeBadger Mode = "badger"
	ModeFile   Mode = "file"
)

// ParseMode validates a backend name. The empty string selects mmap.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeMmap, nil
	case ModeMmap, ModeBadger, ModeFile:
		return m, nil
	default:
		return "", fmt.Errorf("unknown io mode %q (want mmap, badger or file)", s)
	}
}

// Options tune how a signal store is opened.
type Options struct {
	Compression ndarray.Compression
	ReadOnly    bool
}

// OpenSignalStore opens (creating if needed) the signal store rooted at the
// directory path. capacity bounds the bytes the store may hold; 0 means
// unbounded.
func OpenSignalStore(path string, capacity int64, mode Mode, opts Options) (SignalStore, error) {
	if !opts.ReadOnly {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create signal store dir: %w", err)
		}
	}

	switch mode {
	case ModeMmap, "":
		return NewMmapSignalStore(signalFile(path), capacity, opts)
	case ModeBadger:
		return NewBadgerSignalStore(path, capacity, opts)
	case ModeFile:
		return NewFileSignalStore(path, capacity, opts)
	default:
		return nil, fmt.Errorf("unknown io mode %q", mode)
	}
}

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// budget tracks bytes against an optional limit.
type budget struct {
	limit int64
	used  int64
}

func (b *budget) reserve(n int64) error {
	if b.limit > 0 && b.used+n > b.limit {
		return fmt.Errorf("%w: need %d bytes, %d of %d used", ErrCapacityExceeded, n, b.used, b.limit)
	}
	b.used += n
	return nil
}
