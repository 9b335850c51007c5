package velf

import "moria.us/elf2vita/imports"

// findEntryFunc looks up a module's entry by NID; function and variable
// stubs search different tables.
type findEntryFunc func(*imports.Module, uint32) *imports.Entry

// stubSymName names a stub for diagnostics.
func (b *Binary) stubSymName(stub *Stub) string {
	if stub.Sym < 0 {
		return "(unreferenced stub)"
	}
	return b.Symtab[stub.Sym].Name
}

func (b *Binary) lookupStubs(stubs []*Stub, imps []*imports.Imports, find findEntryFunc, kind string) bool {
	foundAll := true
	for _, stub := range stubs {
		for _, imp := range imps {
			if lib := imp.FindLib(stub.LibraryNID); lib != nil {
				stub.Library = lib
				break
			}
		}
		if stub.Library == nil {
			b.warnf("Unable to find library with NID %d for %s symbol %s",
				stub.LibraryNID, kind, b.stubSymName(stub))
			foundAll = false
			continue
		}

		stub.Module = stub.Library.FindModule(stub.ModuleNID)
		if stub.Module == nil {
			b.warnf("Unable to find module with NID %d for %s symbol %s",
				stub.ModuleNID, kind, b.stubSymName(stub))
			foundAll = false
			continue
		}

		stub.Target = find(stub.Module, stub.TargetNID)
		if stub.Target == nil {
			b.warnf("Unable to find %s with NID %d for symbol %s",
				kind, stub.TargetNID, b.stubSymName(stub))
			foundAll = false
		}
	}
	return foundAll
}

// LookupImports resolves every stub's library, module and target against
// the given catalogues; the first catalogue containing the library NID
// wins. Unresolved stubs produce warnings, not errors; the return value
// reports whether everything resolved. The catalogues retain ownership of
// the attached descriptors.
func (b *Binary) LookupImports(imps []*imports.Imports) bool {
	foundAll := true
	if !b.lookupStubs(b.Fstubs, imps, (*imports.Module).FindFunction, "function") {
		foundAll = false
	}
	if !b.lookupStubs(b.Vstubs, imps, (*imports.Module).FindVariable, "variable") {
		foundAll = false
	}
	return foundAll
}
