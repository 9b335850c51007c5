package velf

import (
	"debug/elf"
	"fmt"
)

// bindStubs attaches global symbols defined in a stub section to the stub
// records at their addresses. Function-stub sections only admit STT_FUNC
// symbols and variable-stub sections only STT_OBJECT; a qualifying symbol
// that points at no stub, or a stub claimed by two symbols, is an error.
// Stubs no symbol points at are left unreferenced.
func (b *Binary) bindStubs(stubs []*Stub, stubsNdx int, symType elf.SymType) error {
	for symndx := range b.Symtab {
		sym := &b.Symtab[symndx]
		if sym.Binding != elf.STB_GLOBAL {
			continue
		}
		if sym.Type != elf.STT_FUNC && sym.Type != elf.STT_OBJECT {
			continue
		}
		if sym.Shndx != elf.SectionIndex(stubsNdx) {
			continue
		}

		if sym.Type != symType {
			return fmt.Errorf("global symbol %s in section %d expected to have type %s; instead has type %s",
				sym.Name, stubsNdx, symType, sym.Type)
		}

		var bound bool
		for _, stub := range stubs {
			if stub.Addr != sym.Value {
				continue
			}
			if stub.Sym >= 0 {
				return fmt.Errorf("stub at %06x in section %d has duplicate symbols: %s, %s",
					sym.Value, stubsNdx, b.Symtab[stub.Sym].Name, sym.Name)
			}
			stub.Sym = symndx
			bound = true
			break
		}
		if !bound {
			return fmt.Errorf("global symbol %s in section %d not pointing to a valid stub",
				sym.Name, stubsNdx)
		}
	}
	return nil
}
