package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"eeg-io-engine/internal/ndarray"
)

const fileExt = ".arr"

// FileSignalStore keeps one file per key. Writes go to a temp file that is
// renamed into place, so readers only ever see complete entries.
type FileSignalStore struct {
	dir         string
	mu          sync.Mutex
	count       uint64
	budget      budget
	readOnly    bool
	compression ndarray.Compression
}

func NewFileSignalStore(dir string, capacity int64, opts Options) (*FileSignalStore, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read signal dir: %w", err)
	}

	s := &FileSignalStore{
		dir:         dir,
		budget:      budget{limit: capacity},
		readOnly:    opts.ReadOnly,
		compression: opts.Compression,
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		s.count++
		s.budget.used += info.Size()
	}
	return s, nil
}

func (s *FileSignalStore) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

func (s *FileSignalStore) Write(key string, arr ndarray.Array) error {
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

	target := s.path(key)
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	if err := s.budget.reserve(int64(len(blob))); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		s.budget.used -= int64(len(blob))
		return err
	}
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		s.budget.used -= int64(len(blob))
		return fmt.Errorf("failed to write signal %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		s.budget.used -= int64(len(blob))
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		s.budget.used -= int64(len(blob))
		return err
	}

	s.count++
	return nil
}

func (s *FileSignalStore) Read(key string) (ndarray.Array, error) {
	if err := validKey(key); err != nil {
		return ndarray.Array{}, err
	}
	buf, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return ndarray.Array{}, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return ndarray.Array{}, err
	}
	return ndarray.Unmarshal(buf)
}

func (s *FileSignalStore) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *FileSignalStore) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileSignalStore) ConcurrentReaders() bool {
	return true
}

func (s *FileSignalStore) Close() error {
	return nil
}
