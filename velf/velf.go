// Package velf analyzes statically linked 32-bit little-endian ARM
// executables destined for conversion into Vita loadable modules. It loads
// the two .vitalink stub sections, the symbol table, and every REL-type
// relocation section (reconstructing addends from the instruction stream),
// binds stub records to their global symbols, and reserves a host address
// range per loadable segment so that downstream consumers can use host
// pointers as stable proxies for guest addresses.
package velf

import (
	"debug/elf"
	"io"

	"moria.us/elf2vita/imports"
)

// A Symbol is one entry of the input's symbol table.
type Symbol struct {
	Name    string
	Value   uint32
	Type    elf.SymType
	Binding elf.SymBind
	Shndx   elf.SectionIndex
}

// A Stub is a 16-byte import placeholder from one of the .vitalink stub
// sections. Addr is derived from the section base plus the record's offset;
// the three NIDs identify the imported library, module and target. Sym is
// filled in during symbol binding and the three descriptor fields during
// import resolution; the catalogues retain ownership of the descriptors.
type Stub struct {
	Addr       uint32
	LibraryNID uint32
	ModuleNID  uint32
	TargetNID  uint32

	// Sym is an index into the Binary's symbol table, or -1 for a stub no
	// global symbol points at (permitted, reported as unreferenced).
	Sym int

	Library *imports.Library
	Module  *imports.Module
	Target  *imports.Entry
}

// A Rela is one decoded relocation. The addend is reconstructed from the
// instruction bytes at Offset, not read from the file.
type Rela struct {
	Offset uint32
	Type   elf.R_ARM
	Sym    int // symbol table index, -1 for ignored entries
	Addend int32
}

// A RelaTable holds the decoded relocations of one REL section, tagged with
// the index of the section the relocations apply to.
type RelaTable struct {
	TargetNdx int
	Relas     []Rela
}

// A Segment describes one program header. Segments with a nonzero Memsz own
// a reserved host address range of exactly Memsz bytes; the range has no
// backing storage and no access permissions and is only ever used as a set
// of stable pointer values.
type Segment struct {
	Type  elf.ProgType
	Vaddr uint32
	Memsz uint32

	hostBase uintptr
	hostEnd  uintptr
	reserved []byte
}

// HostBase returns the first host address of the segment's reserved range,
// or 0 if the segment is empty. The range must never be dereferenced.
func (s *Segment) HostBase() uintptr { return s.hostBase }

// HostEnd returns one past the last host address of the reserved range.
func (s *Segment) HostEnd() uintptr { return s.hostEnd }

// A Binary is the analyzed input executable. It is constructed by Load or
// New and is read-only afterwards; Close releases the ELF handle and the
// reserved host ranges and is safe to call on a partially constructed
// Binary.
type Binary struct {
	elf    *elf.File
	closed bool
	diag   io.Writer

	FstubsNdx int // section index of .vitalink.fstubs, 0 if absent
	VstubsNdx int // section index of .vitalink.vstubs, 0 if absent
	Fstubs    []*Stub
	Vstubs    []*Stub

	Symtab    []Symbol
	symtabNdx int

	// RelaTables holds one table per REL section, most recently decoded
	// first, matching the order the downstream encoder expects.
	RelaTables []*RelaTable

	Segments []*Segment
}

// File returns the underlying ELF context. The returned file and all data
// derived from it remain valid until Close.
func (b *Binary) File() *elf.File { return b.elf }

// SectionName returns the name of the section with the given index, or ""
// if the index is out of range.
func (b *Binary) SectionName(ndx int) string {
	if b.elf == nil || ndx < 0 || ndx >= len(b.elf.Sections) {
		return ""
	}
	return b.elf.Sections[ndx].Name
}

// Close releases the reserved host address ranges and the ELF handle.
// It may be called more than once, and on a Binary whose construction
// failed partway.
func (b *Binary) Close() error {
	for _, seg := range b.Segments {
		seg.release()
	}
	if b.closed || b.elf == nil {
		return nil
	}
	b.closed = true
	return b.elf.Close()
}
