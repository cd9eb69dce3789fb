// Copyright (C) 2022 K2 Cyber Security Inc.

package dxgihook

// Invoker calls a native function pointer with the platform calling convention.
type Invoker interface {
	Invoke(fn uintptr, args ...uintptr) uintptr
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(fn uintptr, args ...uintptr) uintptr

// Invoke calls f.
func (f InvokerFunc) Invoke(fn uintptr, args ...uintptr) uintptr { return f(fn, args...) }
