// Copyright (C) 2022 K2 Cyber Security Inc.

package overlay

// Module is an image already mapped into the current process.
type Module struct {
	Name string
	Path string
	Base uintptr
}

// instance identifies one load of a module; a reload at another base or from
// another path is a different instance.
type instance struct {
	base uintptr
	path string
}

func (m Module) instance() instance {
	return instance{base: m.Base, path: m.Path}
}

// Modules is the view of the current process Installation needs.
type Modules interface {
	// Loaded finds name among the modules already loaded, without loading it
	// or taking a reference.
	Loaded(name string) (Module, bool)
	// PinSelf keeps the module containing this code loaded for the life of the
	// process.
	PinSelf() error
	// Executable is the host program, for diagnostics.
	Executable() string
}
