//go:build linux

package velf

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// reserve maps an anonymous PROT_NONE range of exactly Memsz bytes. The
// mapping commits no storage (MAP_NORESERVE) and is never accessed; it only
// pins a range of host addresses for the segment.
func (s *Segment) reserve() error {
	m, err := unix.Mmap(-1, 0, int(s.Memsz), unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return fmt.Errorf("could not allocate address space: %v", err)
	}
	s.reserved = m
	s.hostBase = uintptr(unsafe.Pointer(unsafe.SliceData(m)))
	s.hostEnd = s.hostBase + uintptr(s.Memsz)
	return nil
}

func (s *Segment) release() {
	if s.reserved == nil {
		return
	}
	unix.Munmap(s.reserved)
	s.reserved = nil
	s.hostBase = 0
	s.hostEnd = 0
}
