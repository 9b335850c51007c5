package velf

import "debug/elf"

// loadSegments records every program header and reserves a disjoint host
// address range for each segment with a nonzero memory size. The ranges
// carry no permissions and no backing storage; they exist so that host
// pointers can stand in for guest addresses during encoding.
func (b *Binary) loadSegments(f *elf.File) error {
	b.Segments = make([]*Segment, 0, len(f.Progs))
	for i, p := range f.Progs {
		seg := &Segment{
			Type:  p.Type,
			Vaddr: uint32(p.Vaddr),
			Memsz: uint32(p.Memsz),
		}
		if seg.Memsz != 0 {
			if err := seg.reserve(); err != nil {
				return wrapErrorSegment(err, i)
			}
		}
		b.Segments = append(b.Segments, seg)
	}
	return nil
}

// VaddrToHost translates a guest virtual address into a host pointer within
// the owning segment's reserved range. Returns 0 when no segment contains
// the address.
func (b *Binary) VaddrToHost(vaddr uint32) uintptr {
	for _, seg := range b.Segments {
		if vaddr >= seg.Vaddr && vaddr < seg.Vaddr+seg.Memsz {
			return seg.hostBase + uintptr(vaddr-seg.Vaddr)
		}
	}
	return 0
}

// SegOffsetToHost translates an offset within the given segment into a host
// pointer. Returns 0 when the offset is past the segment's memory size.
func (b *Binary) SegOffsetToHost(segndx int, offset uint32) uintptr {
	seg := b.Segments[segndx]
	if offset < seg.Memsz {
		return seg.hostBase + uintptr(offset)
	}
	return 0
}

// HostToVaddr translates a host pointer back into the guest virtual address
// it proxies. Returns 0 for a zero or unmatched pointer.
func (b *Binary) HostToVaddr(ptr uintptr) uint32 {
	if ptr == 0 {
		return 0
	}
	for _, seg := range b.Segments {
		if ptr >= seg.hostBase && ptr < seg.hostEnd {
			return seg.Vaddr + uint32(ptr-seg.hostBase)
		}
	}
	return 0
}

// HostToSegNdx returns the index of the segment whose reserved range
// contains the pointer, or -1.
func (b *Binary) HostToSegNdx(ptr uintptr) int {
	for i, seg := range b.Segments {
		if ptr != 0 && ptr >= seg.hostBase && ptr < seg.hostEnd {
			return i
		}
	}
	return -1
}

// HostToSegOffset returns the pointer's offset within the given segment's
// reserved range: 0 for a zero pointer, -1 when the pointer is outside the
// segment.
func (b *Binary) HostToSegOffset(ptr uintptr, segndx int) int32 {
	if ptr == 0 {
		return 0
	}
	seg := b.Segments[segndx]
	if ptr >= seg.hostBase && ptr < seg.hostEnd {
		return int32(ptr - seg.hostBase)
	}
	return -1
}

// VaddrToSegNdx returns the index of the segment containing the guest
// address, or -1. Exception-index segments duplicate address ranges that
// are also present in a data segment; those won't be loaded, so the data
// segment wins.
func (b *Binary) VaddrToSegNdx(vaddr uint32) int {
	for i, seg := range b.Segments {
		if seg.Type == elf.PT_ARM_EXIDX {
			continue
		}
		if vaddr >= seg.Vaddr && vaddr < seg.Vaddr+seg.Memsz {
			return i
		}
	}
	return -1
}

// VaddrToSegOffset returns the guest address's offset within the given
// segment, or 0 for a zero address. The address is not range-checked: the
// caller has already committed to a segment, possibly via fuzzy matching.
func (b *Binary) VaddrToSegOffset(vaddr uint32, segndx int) uint32 {
	if vaddr == 0 {
		return 0
	}
	return vaddr - b.Segments[segndx].Vaddr
}
