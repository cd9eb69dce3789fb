// Copyright (C) 2022 K2 Cyber Security Inc.

package discovery

// OSVersion is the host operating system version.
type OSVersion struct {
	Major uint32
	Minor uint32
	Build uint32
}

// Supported reports whether DXGI 1.1 can be expected: Vista SP1 (6.0.6001) or
// newer.
func (v OSVersion) Supported() bool {
	return v.Major > 6 || (v.Major == 6 && v.Build >= 6001)
}

// Releaser gives back whatever was acquired.
type Releaser interface {
	Release()
}

// System is the operating-system surface discovery runs against.
type System interface {
	Version() (OSVersion, error)
	// LoadLibrary loads name from the system directory, taking a reference.
	LoadLibrary(name string) (Library, error)
	// CreateWindow creates a hidden top-level window.
	CreateWindow(class, title string) (Window, error)
	// CreateFactory calls the CreateDXGIFactory1 entry point at proc.
	CreateFactory(proc uintptr) (Factory, error)
}

// Library is a loaded module.
type Library interface {
	Releaser
	Base() uintptr
	Path() (string, error)
	Proc(name string) (uintptr, error)
}

// Window is a top-level window handle.
type Window interface {
	Releaser
	Handle() uintptr
}

// Factory is an IDXGIFactory1.
type Factory interface {
	Releaser
	Adapter(index uint32) (Adapter, error)
}

// Adapter is an IDXGIAdapter1.
type Adapter interface {
	Releaser
	// SwapChain creates a device and swap chain presenting to window.
	SwapChain(window Window) (SwapChain, error)
}

// SwapChain is a live IDXGISwapChain together with the device that owns it.
type SwapChain interface {
	Releaser
	// Entrypoints reads Present and ResizeBuffers out of the vtable.
	Entrypoints() (present, resize uintptr, err error)
}
