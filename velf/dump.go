package velf

import (
	"bufio"
	"fmt"

	"github.com/ianlancetaylor/demangle"
)

// prettyName demangles C++ symbol names for display; anything the
// demangler rejects is shown as-is.
func prettyName(name string) string {
	if pretty, err := demangle.ToString(name); err == nil {
		return pretty
	}
	return name
}

func (b *Binary) dumpStubs(w *bufio.Writer, stubs []*Stub) {
	for _, stub := range stubs {
		name := "unreferenced stub"
		if stub.Sym >= 0 {
			name = prettyName(b.Symtab[stub.Sym].Name)
		}
		library, module, target := "not found", "not found", "not found"
		if stub.Library != nil {
			library = stub.Library.Name
		}
		if stub.Module != nil {
			module = stub.Module.Name
		}
		if stub.Target != nil {
			target = stub.Target.Name
		}
		fmt.Fprintf(w, "  0x%06x (%s):\n", stub.Addr, name)
		fmt.Fprintf(w, "    Library: %d (%s)\n", stub.LibraryNID, library)
		fmt.Fprintf(w, "    Module : %d (%s)\n", stub.ModuleNID, module)
		fmt.Fprintf(w, "    NID    : %d (%s)\n", stub.TargetNID, target)
	}
}

func (b *Binary) dumpRelaTables(w *bufio.Writer) {
	for _, rt := range b.RelaTables {
		fmt.Fprintf(w, "  Relocations for section %d: %s\n", rt.TargetNdx, b.SectionName(rt.TargetNdx))
		for _, r := range rt.Relas {
			if r.Sym >= 0 {
				fmt.Fprintf(w, "    offset %06x: type %s, %s%+d\n",
					r.Offset, r.Type, prettyName(b.Symtab[r.Sym].Name), r.Addend)
			} else if r.Offset != 0 {
				fmt.Fprintf(w, "    offset %06x: type %s, absolute %06x\n",
					r.Offset, r.Type, uint32(r.Addend))
			}
		}
	}
}

func (b *Binary) dumpSegments(w *bufio.Writer) {
	for i, seg := range b.Segments {
		fmt.Fprintf(w, "  Segment %d: vaddr %06x, size 0x%x\n", i, seg.Vaddr, seg.Memsz)
		if seg.Memsz != 0 {
			fmt.Fprintf(w, "    Host address region: %#x - %#x\n", seg.hostBase, seg.hostEnd)
		}
	}
}

// Dump writes a text listing of the analyzed binary: stub records with
// their resolution state, decoded relocation tables, and the segment map.
func (b *Binary) Dump(w *bufio.Writer) {
	if b.FstubsNdx != 0 {
		fmt.Fprintf(w, "Function stubs in section %d:\n", b.FstubsNdx)
		b.dumpStubs(w, b.Fstubs)
	}
	if b.VstubsNdx != 0 {
		fmt.Fprintf(w, "Variable stubs in section %d:\n", b.VstubsNdx)
		b.dumpStubs(w, b.Vstubs)
	}
	w.WriteString("Relocations:\n")
	b.dumpRelaTables(w)
	w.WriteString("Segments:\n")
	b.dumpSegments(w)
}
