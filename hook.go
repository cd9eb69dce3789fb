// Copyright (C) 2022 K2 Cyber Security Inc.

package dxgihook

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDoubleHook means already hooked
	ErrDoubleHook = errors.New("double hook")
	// ErrHookNotFound means the hook not found
	ErrHookNotFound = errors.New("hook not found")
	// ErrNotArmed means the hook was never set up
	ErrNotArmed = errors.New("hook not set up")
	// ErrShortFunction means the function ends before a jump fits
	ErrShortFunction = errors.New("function shorter than patch")
	// ErrUnsupportedArch means there is no jump encoder for this machine
	ErrUnsupportedArch = errors.New("unsupported architecture")
	// ErrCallSkipped means the original could not be reached without re-entering the hook
	ErrCallSkipped = errors.New("original call skipped")
)

// Hook is one patched entry point.
type Hook struct {
	// guards armed and the bytes at target
	mu sync.Mutex
	// serializes restore/call/inject when there is no trampoline
	call sync.Mutex

	mem         Memory
	target      uintptr
	replacement uintptr
	// the instructions overwritten at target
	original []byte
	// the jump to replacement, padded to len(original)
	patch []byte
	// moved instructions plus jump back, zero when not relocatable
	trampoline uintptr
	armed      bool
}

// Target is the patched entry point.
func (h *Hook) Target() uintptr { return h.target }

// Replacement is where the patched entry point jumps.
func (h *Hook) Replacement() uintptr { return h.replacement }

// Trampoline is the relocated prologue, or zero if none could be built.
func (h *Hook) Trampoline() uintptr { return h.trampoline }

// Original returns a copy of the bytes the patch covers.
func (h *Hook) Original() []byte { return append([]byte(nil), h.original...) }

// Call returns the address that runs the original logic. With a trampoline it
// works whether or not the hook is armed; without one it is the raw target and
// only safe while the hook is restored.
func (h *Hook) Call() uintptr {
	if h.trampoline != 0 {
		return h.trampoline
	}
	return h.target
}

// Armed reports whether the patch is currently written at the target.
func (h *Hook) Armed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.armed
}

// Restore puts the original bytes back. Restoring a restored hook is a no-op.
func (h *Hook) Restore() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.patch == nil {
		return ErrNotArmed
	}
	if !h.armed {
		return nil
	}
	if err := h.mem.Write(h.target, h.original); err != nil {
		return fmt.Errorf("restore %#x: %w", h.target, err)
	}
	h.armed = false
	return nil
}

// Inject writes the patch again. Injecting an armed hook is a no-op.
func (h *Hook) Inject() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.patch == nil {
		return ErrNotArmed
	}
	if h.armed {
		return nil
	}
	if err := h.mem.Write(h.target, h.patch); err != nil {
		return fmt.Errorf("inject %#x: %w", h.target, err)
	}
	h.armed = true
	return nil
}

// Passthrough runs the original through inv and returns its result untouched.
//
// With a trampoline the patch never comes off: the trampoline reaches the
// original while the hook stays armed, so a re-entrant original cannot deadlock
// and other threads keep hitting the replacement. Without one the hook is
// restored around the call under the call lock so two threads never observe
// each other's restore window. If that restore fails the raw target still
// jumps back into the replacement, so the call is skipped and ErrCallSkipped
// returned.
func (h *Hook) Passthrough(inv Invoker, args ...uintptr) (uintptr, error) {
	if h.trampoline != 0 {
		return inv.Invoke(h.trampoline, args...), nil
	}

	h.call.Lock()
	defer h.call.Unlock()
	if err := h.Restore(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCallSkipped, err)
	}
	ret := inv.Invoke(h.target, args...)
	return ret, h.Inject()
}
