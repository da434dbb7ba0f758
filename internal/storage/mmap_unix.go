//go:build !windows

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func (s *MmapSignalStore) mmap(size int64) error {
	prot := unix.PROT_READ | unix.PROT_WRITE
	if s.readOnly {
		prot = unix.PROT_READ
	}
	data, err := unix.Mmap(int(s.file.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap failed: %w", err)
	}
	s.mapped = data
	return nil
}

func (s *MmapSignalStore) munmap() error {
	if s.mapped != nil {
		if !s.readOnly {
			_ = unix.Msync(s.mapped, unix.MS_SYNC)
		}
		err := unix.Munmap(s.mapped)
		s.mapped = nil
		return err
	}
	return nil
}
