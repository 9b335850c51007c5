//go:build !linux

package velf

import "unsafe"

// reserve carves the segment's host range out of the regular heap. The
// allocator guarantees live allocations are disjoint, which is the only
// property the range needs; it is never read or written.
func (s *Segment) reserve() error {
	s.reserved = make([]byte, s.Memsz)
	s.hostBase = uintptr(unsafe.Pointer(unsafe.SliceData(s.reserved)))
	s.hostEnd = s.hostBase + uintptr(s.Memsz)
	return nil
}

func (s *Segment) release() {
	s.reserved = nil
	s.hostBase = 0
	s.hostEnd = 0
}
