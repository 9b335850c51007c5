// Package imports models the import catalogues the target runtime is
// described by: libraries containing modules containing exported functions
// and variables, all named by NID. Catalogues are constructed by the caller
// (for example from a NID database); this package only provides the model
// and lookup by NID.
package imports

// An Entry is a single importable function or variable.
type Entry struct {
	Name string
	NID  uint32
}

// A Module groups the entries a library module exports. Functions and
// variables live in separate tables and are looked up separately.
type Module struct {
	Name      string
	NID       uint32
	Functions []*Entry
	Variables []*Entry
}

// A Library is a collection of modules.
type Library struct {
	Name    string
	NID     uint32
	Modules []*Module
}

// Imports is one catalogue of libraries.
type Imports struct {
	Libraries []*Library
}

// FindLib returns the library with the given NID, or nil.
func (imp *Imports) FindLib(nid uint32) *Library {
	for _, lib := range imp.Libraries {
		if lib.NID == nid {
			return lib
		}
	}
	return nil
}

// FindModule returns the module with the given NID, or nil.
func (lib *Library) FindModule(nid uint32) *Module {
	for _, mod := range lib.Modules {
		if mod.NID == nid {
			return mod
		}
	}
	return nil
}

// FindFunction returns the function entry with the given NID, or nil.
func (mod *Module) FindFunction(nid uint32) *Entry {
	for _, e := range mod.Functions {
		if e.NID == nid {
			return e
		}
	}
	return nil
}

// FindVariable returns the variable entry with the given NID, or nil.
func (mod *Module) FindVariable(nid uint32) *Entry {
	for _, e := range mod.Variables {
		if e.NID == nid {
			return e
		}
	}
	return nil
}
