package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"eeg-io-engine/internal/ndarray"
)

const (
	// File header (v1):
	//   0..7   magic "EEGSIG01"
	//   8..15  count (uint64)
	//   16..23 end offset of the last entry (uint64)
	HeaderSize = 24

	// Entry: keyLen (uint32) | blobLen (uint32) | key | blob
	entryHeaderSize = 8

	initialDataSize = 1 << 20
)

var fileMagic = [8]byte{'E', 'E', 'G', 'S', 'I', 'G', '0', '1'}

func signalFile(dir string) string {
	return filepath.Join(dir, "signals.bin")
}

type entryRef struct {
	offset int
	length int
}

// MmapSignalStore implements SignalStore as an append-only log in a
// memory-mapped file. Entries become visible only once the header count is
// bumped, so a crash mid-write never exposes a partial entry.
type MmapSignalStore struct {
	filename    string
	file        *os.File
	mu          sync.RWMutex
	mapped      []byte
	index       map[string]entryRef
	keys        []string
	count       uint64
	end         uint64
	capacity    int64
	readOnly    bool
	compression ndarray.Compression
	mapHandle   uintptr // syscall.Handle on Windows
	viewHandle  uintptr // MapViewOfFile address
}

func NewMmapSignalStore(filename string, capacity int64, opts Options) (*MmapSignalStore, error) {
	if capacity > 0 && capacity < HeaderSize {
		return nil, fmt.Errorf("invalid capacity: %d < header size %d", capacity, HeaderSize)
	}

	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(filename, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	store := &MmapSignalStore{
		filename:    filename,
		file:        f,
		capacity:    capacity,
		readOnly:    opts.ReadOnly,
		compression: opts.Compression,
		index:       make(map[string]entryRef),
	}

	if info.Size() == 0 {
		if opts.ReadOnly {
			_ = f.Close()
			return nil, fmt.Errorf("signal file %s is empty", filename)
		}
		if err := store.initNew(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	if err := store.remap(); err != nil {
		_ = f.Close()
		return nil, err
	}

	count, end, err := store.readAndValidateHeader()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.rebuildIndex(count, end); err != nil {
		_ = store.Close()
		return nil, err
	}

	return store, nil
}

func (s *MmapSignalStore) initNew() error {
	initialSize := int64(HeaderSize + initialDataSize)
	if s.capacity > 0 && initialSize > s.capacity {
		initialSize = s.capacity
	}
	if err := s.resize(initialSize); err != nil {
		return err
	}
	if err := s.remap(); err != nil {
		return err
	}
	s.writeHeader(0, HeaderSize)
	return nil
}

func (s *MmapSignalStore) readAndValidateHeader() (count uint64, end uint64, err error) {
	if len(s.mapped) < HeaderSize {
		return 0, 0, fmt.Errorf("signal file too small for header: %d < %d", len(s.mapped), HeaderSize)
	}

	var mg [8]byte
	copy(mg[:], s.mapped[:8])
	if mg != fileMagic {
		return 0, 0, errors.New("invalid signal file header (magic mismatch): delete signals.bin to reset")
	}

	count = binary.LittleEndian.Uint64(s.mapped[8:16])
	end = binary.LittleEndian.Uint64(s.mapped[16:24])
	if end < HeaderSize || end > uint64(len(s.mapped)) {
		return 0, 0, fmt.Errorf("invalid signal file header (end=%d, size=%d)", end, len(s.mapped))
	}
	return count, end, nil
}

// rebuildIndex walks the committed entries to restore the key index.
func (s *MmapSignalStore) rebuildIndex(count, end uint64) error {
	off := HeaderSize
	for i := uint64(0); i < count; i++ {
		if off+entryHeaderSize > int(end) {
			return fmt.Errorf("signal file corrupt: entry %d header past end %d", i, end)
		}
		keyLen := int(binary.LittleEndian.Uint32(s.mapped[off:]))
		blobLen := int(binary.LittleEndian.Uint32(s.mapped[off+4:]))
		keyStart := off + entryHeaderSize
		blobStart := keyStart + keyLen
		if blobStart+blobLen > int(end) {
			return fmt.Errorf("signal file corrupt: entry %d overruns end %d", i, end)
		}
		key := string(s.mapped[keyStart:blobStart])
		s.index[key] = entryRef{offset: blobStart, length: blobLen}
		s.keys = append(s.keys, key)
		off = blobStart + blobLen
	}
	s.count = count
	s.end = end
	return nil
}

func (s *MmapSignalStore) writeHeader(count uint64, end uint64) {
	copy(s.mapped[:8], fileMagic[:])
	binary.LittleEndian.PutUint64(s.mapped[8:16], count)
	binary.LittleEndian.PutUint64(s.mapped[16:24], end)
}

func (s *MmapSignalStore) resize(newSize int64) error {
	if err := s.munmap(); err != nil {
		return err
	}
	if err := s.file.Truncate(newSize); err != nil {
		return err
	}
	return nil
}

func (s *MmapSignalStore) remap() error {
	// Always unmap any existing view before mapping a new one; mapping twice
	// leaks handles on Windows.
	if err := s.munmap(); err != nil {
		return err
	}

	fi, err := s.file.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	if size == 0 {
		return nil
	}

	return s.mmap(size)
}

func (s *MmapSignalStore) Write(key string, arr ndarray.Array) error {
	if err := validKey(key); err != nil {
		return err
	}
	blob, err := ndarray.Marshal(arr, s.compression)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return ErrReadOnly
	}
	if _, ok := s.index[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}

	entrySize := entryHeaderSize + len(key) + len(blob)
	requiredSize := int64(s.end) + int64(entrySize)
	if s.capacity > 0 && requiredSize > s.capacity {
		return fmt.Errorf("%w: entry %s needs %d bytes, %d of %d used", ErrCapacityExceeded, key, entrySize, s.end, s.capacity)
	}
	if requiredSize > int64(len(s.mapped)) {
		// Grow by 50% or at least required size, never past capacity.
		newSize := int64(len(s.mapped)) + int64(len(s.mapped))/2
		if newSize < requiredSize {
			newSize = requiredSize
		}
		if s.capacity > 0 && newSize > s.capacity {
			newSize = s.capacity
		}

		if err := s.resize(newSize); err != nil {
			return fmt.Errorf("resize failed: %w", err)
		}
		if err := s.remap(); err != nil {
			return fmt.Errorf("remap failed: %w", err)
		}
	}

	off := int(s.end)
	binary.LittleEndian.PutUint32(s.mapped[off:], uint32(len(key)))
	binary.LittleEndian.PutUint32(s.mapped[off+4:], uint32(len(blob)))
	keyStart := off + entryHeaderSize
	copy(s.mapped[keyStart:], key)
	blobStart := keyStart + len(key)
	copy(s.mapped[blobStart:], blob)

	s.count++
	s.end = uint64(blobStart + len(blob))
	// Commit point.
	s.writeHeader(s.count, s.end)

	s.index[key] = entryRef{offset: blobStart, length: len(blob)}
	s.keys = append(s.keys, key)
	return nil
}

func (s *MmapSignalStore) Read(key string) (ndarray.Array, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.index[key]
	if !ok {
		return ndarray.Array{}, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	// Unmarshal copies out of the mapping.
	return ndarray.Unmarshal(s.mapped[ref.offset : ref.offset+ref.length])
}

func (s *MmapSignalStore) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *MmapSignalStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.keys...), nil
}

func (s *MmapSignalStore) ConcurrentReaders() bool {
	return true
}

func (s *MmapSignalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.munmap()
	return s.file.Close()
}
