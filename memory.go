// Copyright (C) 2022 K2 Cyber Security Inc.

package dxgihook

import "unsafe"

// Memory is the only way the engine touches code. Every address-level write
// goes through it, so everything above it runs against synthetic functions in
// tests.
type Memory interface {
	// Read copies size bytes starting at addr.
	Read(addr uintptr, size int) ([]byte, error)
	// Write stores data at addr, lifting page protection for the duration and
	// flushing the instruction cache where the platform needs it.
	Write(addr uintptr, data []byte) error
	// Alloc returns size bytes of executable memory.
	Alloc(size int) (uintptr, error)
}

// ProcessMemory patches the code of the running process.
type ProcessMemory struct{}

var _ Memory = ProcessMemory{}

// Read copies size bytes starting at addr.
func (ProcessMemory) Read(addr uintptr, size int) ([]byte, error) {
	out := make([]byte, size)
	copy(out, makeSlice(addr, uintptr(size)))
	return out, nil
}

func makeSlice(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

func slicePtr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
