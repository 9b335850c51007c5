package velf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	fstubsName = ".vitalink.fstubs"
	vstubsName = ".vitalink.vstubs"

	stubSize = 16
)

// debugSections are relocation sections whose presence indicates the binary
// still carries debug info, which the conversion pipeline cannot handle.
var debugSections = []string{
	".rel.debug_info", ".rel.debug_arange", ".rel.debug_line", ".rel.debug_frame",
}

// Load opens the named file and analyzes it. Warnings are written to diag;
// a nil diag selects os.Stderr. On failure all partial state is released
// and no Binary is returned.
func Load(name string, diag io.Writer) (*Binary, error) {
	f, err := elf.Open(name)
	if err != nil {
		return nil, err
	}
	b, err := analyze(f, diag)
	if err != nil {
		f.Close()
		return nil, wrapError(err, name)
	}
	return b, nil
}

// New analyzes an ELF image read from r. The reader must stay valid until
// the Binary is closed.
func New(r io.ReaderAt, diag io.Writer) (*Binary, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	b, err := analyze(f, diag)
	if err != nil {
		f.Close()
		return nil, err
	}
	return b, nil
}

func analyze(f *elf.File, diag io.Writer) (*Binary, error) {
	if f.Machine != elf.EM_ARM {
		return nil, fmt.Errorf("ELF has machine %s, expected EM_ARM", f.Machine)
	}
	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("ELF has class %s, expected ELFCLASS32", f.Class)
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("ELF has data %s, expected ELFDATA2LSB", f.Data)
	}

	if diag == nil {
		diag = os.Stderr
	}
	b := &Binary{elf: f, diag: diag}

	for i, s := range f.Sections {
		if s.Type == elf.SHT_PROGBITS && s.Name == fstubsName {
			if b.FstubsNdx != 0 {
				b.Close()
				return nil, fmt.Errorf("multiple %s sections in binary", fstubsName)
			}
			b.FstubsNdx = i
			stubs, err := loadStubs(s)
			if err != nil {
				b.Close()
				return nil, wrapErrorSection(err, i, s.Name)
			}
			b.Fstubs = stubs
		} else if s.Type == elf.SHT_PROGBITS && s.Name == vstubsName {
			if b.VstubsNdx != 0 {
				b.Close()
				return nil, fmt.Errorf("multiple %s sections in binary", vstubsName)
			}
			b.VstubsNdx = i
			stubs, err := loadStubs(s)
			if err != nil {
				b.Close()
				return nil, wrapErrorSection(err, i, s.Name)
			}
			b.Vstubs = stubs
		}

		for _, name := range debugSections {
			if s.Name == name {
				b.Close()
				return nil, errors.New("binary contains debugging information, which is known to cause issues; run 'arm-vita-eabi-strip -g homebrew.elf'")
			}
		}

		var err error
		switch s.Type {
		case elf.SHT_SYMTAB:
			err = b.loadSymbols(i, s)
		case elf.SHT_REL:
			err = b.loadRelTable(s)
		case elf.SHT_RELA:
			err = b.loadRelaTable(s)
		}
		if err != nil {
			b.Close()
			return nil, wrapErrorSection(err, i, s.Name)
		}
	}

	if b.FstubsNdx == 0 && b.VstubsNdx == 0 {
		b.Close()
		return nil, errors.New("no .vitalink stub sections in binary, probably not a Vita binary")
	}
	if b.Symtab == nil {
		b.Close()
		return nil, errors.New("no symbol table in binary, perhaps stripped out")
	}
	if len(b.RelaTables) == 0 {
		b.Close()
		return nil, errors.New("no relocation sections in binary; use -Wl,-q while compiling")
	}

	if b.FstubsNdx != 0 {
		if err := b.bindStubs(b.Fstubs, b.FstubsNdx, elf.STT_FUNC); err != nil {
			b.Close()
			return nil, err
		}
	}
	if b.VstubsNdx != 0 {
		if err := b.bindStubs(b.Vstubs, b.VstubsNdx, elf.STT_OBJECT); err != nil {
			b.Close()
			return nil, err
		}
	}

	if err := b.loadSegments(f); err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}

// loadStubs parses a .vitalink stub section into stub records. Each
// 16-byte record is (addr, library NID, module NID, target NID); the addr
// field in the file is unused and the in-memory address is derived from the
// section base plus the record's offset instead.
func loadStubs(s *elf.Section) ([]*Stub, error) {
	data, err := s.Data()
	if err != nil {
		return nil, err
	}
	if len(data)%stubSize != 0 {
		return nil, fmt.Errorf("stub section length %d is not a multiple of %d", len(data), stubSize)
	}
	stubs := make([]*Stub, 0, len(data)/stubSize)
	for off := 0; off < len(data); off += stubSize {
		stubs = append(stubs, &Stub{
			Addr:       uint32(s.Addr) + uint32(off),
			LibraryNID: binary.LittleEndian.Uint32(data[off+4:]),
			ModuleNID:  binary.LittleEndian.Uint32(data[off+8:]),
			TargetNID:  binary.LittleEndian.Uint32(data[off+12:]),
			Sym:        -1,
		})
	}
	return stubs, nil
}

// loadSymbols materialises the symbol table from the section with the given
// index. Calling it again with the same index is a no-op; a second,
// different symbol table is an error.
func (b *Binary) loadSymbols(ndx int, s *elf.Section) error {
	if ndx == b.symtabNdx && b.Symtab != nil {
		return nil // already loaded
	}
	if b.Symtab != nil {
		return errors.New("ELF file appears to have multiple symbol tables")
	}
	if s.Entsize != elf.Sym32Size {
		return fmt.Errorf("symbol table has entry size %d, expected %d", s.Entsize, elf.Sym32Size)
	}

	link := int(s.Link)
	if link <= 0 || link >= len(b.elf.Sections) {
		return fmt.Errorf("symbol table links to invalid string table section %d", link)
	}
	strs, err := b.elf.Sections[link].Data()
	if err != nil {
		return wrapError(err, "string table")
	}

	data, err := s.Data()
	if err != nil {
		return err
	}
	num := len(data) / elf.Sym32Size
	symtab := make([]Symbol, 0, num)
	r := bytes.NewReader(data)
	for i := 0; i < num; i++ {
		var sym elf.Sym32
		if err := binary.Read(r, b.elf.ByteOrder, &sym); err != nil {
			return err
		}
		symtab = append(symtab, Symbol{
			Name:    getString(strs, sym.Name),
			Value:   sym.Value,
			Type:    elf.ST_TYPE(sym.Info),
			Binding: elf.ST_BIND(sym.Info),
			Shndx:   elf.SectionIndex(sym.Shndx),
		})
	}
	b.Symtab = symtab
	b.symtabNdx = ndx
	return nil
}

// getString extracts the NUL-terminated string at the given start offset of
// a string table.
func getString(strs []byte, start uint32) string {
	if start >= uint32(len(strs)) {
		return ""
	}
	if i := bytes.IndexByte(strs[start:], 0); i >= 0 {
		return string(strs[start : int(start)+i])
	}
	return string(strs[start:])
}
