//go:build windows

package storage

import (
	"fmt"
	"syscall"
	"unsafe"
)

func (s *MmapSignalStore) mmap(size int64) error {
	// The mapping object is created with the explicit file length; a zero
	// length would pin it to the size at creation time and miss later growth.
	if size <= 0 {
		return fmt.Errorf("invalid mmap size: %d", size)
	}

	hi := uint32(uint64(size) >> 32)
	lo := uint32(uint64(size) & 0xffffffff)

	protect := uint32(syscall.PAGE_READWRITE)
	access := uint32(syscall.FILE_MAP_WRITE)
	if s.readOnly {
		protect = syscall.PAGE_READONLY
		access = syscall.FILE_MAP_READ
	}

	h, err := syscall.CreateFileMapping(syscall.Handle(s.file.Fd()), nil, protect, hi, lo, nil)
	if err != nil {
		return fmt.Errorf("CreateFileMapping failed: %w", err)
	}
	s.mapHandle = uintptr(h)

	addr, err := syscall.MapViewOfFile(h, access, 0, 0, uintptr(size))
	if err != nil {
		syscall.CloseHandle(h)
		s.mapHandle = 0
		return fmt.Errorf("MapViewOfFile failed: %w", err)
	}

	s.viewHandle = addr
	s.mapped = unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
	return nil
}

func (s *MmapSignalStore) munmap() error {
	if s.viewHandle != 0 {
		if !s.readOnly {
			_ = syscall.FlushViewOfFile(s.viewHandle, uintptr(len(s.mapped)))
		}
		_ = syscall.UnmapViewOfFile(s.viewHandle)
		s.viewHandle = 0
	}
	if s.mapHandle != 0 {
		_ = syscall.CloseHandle(syscall.Handle(s.mapHandle))
		s.mapHandle = 0
	}
	s.mapped = nil
	return nil
}
