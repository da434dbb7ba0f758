package storage

import (
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"eeg-io-engine/internal/ndarray"
)

// BadgerSignalStore implements SignalStore on BadgerDB. Capacity is enforced
// as a budget over stored value bytes.
type BadgerSignalStore struct {
	db          *badger.DB
	mu          sync.Mutex
	count       uint64
	budget      budget
	readOnly    bool
	compression ndarray.Compression
}

func NewBadgerSignalStore(dir string, capacity int64, opts Options) (*BadgerSignalStore, error) {
	bopts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	s := &BadgerSignalStore{
		db:          db,
		budget:      budget{limit: capacity},
		readOnly:    opts.ReadOnly,
		compression: opts.Compression,
	}

	err = db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		it := txn.NewIterator(iopts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			s.count++
			s.budget.used += it.Item().ValueSize()
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to scan badger store: %w", err)
	}

	return s, nil
}

func (s *BadgerSignalStore) Write(key string, arr ndarray.Array) error {
	if err := validKey(key); err != nil {
		return err
	}
	if s.readOnly {
		return ErrReadOnly
	}
	blob, err := ndarray.Marshal(arr, s.compression)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := s.budget.reserve(int64(len(blob))); err != nil {
			return err
		}
		if err := txn.Set([]byte(key), blob); err != nil {
			s.budget.used -= int64(len(blob))
			return fmt.Errorf("failed to store signal %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.count++
	return nil
}

func (s *BadgerSignalStore) Read(key string) (ndarray.Array, error) {
	var arr ndarray.Array
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			a, err := ndarray.Unmarshal(val)
			if err != nil {
				return err
			}
			arr = a
			return nil
		})
	})
	if err != nil {
		return ndarray.Array{}, err
	}
	return arr, nil
}

func (s *BadgerSignalStore) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *BadgerSignalStore) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		it := txn.NewIterator(iopts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

func (s *BadgerSignalStore) ConcurrentReaders() bool {
	return true
}

func (s *BadgerSignalStore) Close() error {
	return s.db.Close()
}
