// Copyright (C) 2022 K2 Cyber Security Inc.

package dxgihook

import (
	"fmt"
	"sync"
)

// how many bytes of a target are decoded when measuring its prologue
const lookWindow = 32

// Engine creates hooks and keeps one per target address.
type Engine struct {
	mem  Memory
	arch Arch

	// hooks applied with target addresses as keys
	hooks map[uintptr]*Hook
	// protect the hooks map
	lock sync.Mutex
}

// NewEngine returns an engine that patches through mem using arch's encodings.
func NewEngine(mem Memory, arch Arch) *Engine {
	return &Engine{
		mem:   mem,
		arch:  arch,
		hooks: make(map[uintptr]*Hook),
	}
}

// Setup patches target to jump to replacement and returns the armed hook.
func (e *Engine) Setup(target, replacement uintptr) (*Hook, error) {
	h, err := e.Prepare(target, replacement)
	if err != nil {
		return nil, err
	}
	if err := h.Inject(); err != nil {
		e.forget(target)
		return nil, err
	}
	return h, nil
}

// Prepare builds the hook for target, including its trampoline, without writing
// the patch. Inject arms it. Callers that must publish the hook before the first
// call can reach the replacement use Prepare followed by Inject.
func (e *Engine) Prepare(target, replacement uintptr) (*Hook, error) {
	if e.arch == nil {
		return nil, ErrUnsupportedArch
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	if _, ok := e.hooks[target]; ok {
		return nil, ErrDoubleHook
	}

	src, err := e.mem.Read(target, lookWindow)
	if err != nil {
		return nil, fmt.Errorf("read prologue at %#x: %w", target, err)
	}
	inf, err := ensureLength(src, e.arch.JumpSize(), e.arch.Mode())
	if err != nil {
		return nil, fmt.Errorf("measure prologue at %#x: %w", target, err)
	}

	h := &Hook{
		mem:         e.mem,
		target:      target,
		replacement: replacement,
		original:    append([]byte(nil), src[:inf.length]...),
	}
	h.patch = padNop(e.arch.Jump(target, replacement), inf.length)

	// without a trampoline the original is reached by restoring the target
	if inf.relocatable {
		tramp, err := e.trampoline(target, h.original)
		if err != nil {
			return nil, err
		}
		h.trampoline = tramp
	}
	e.hooks[target] = h
	return h, nil
}

// trampoline copies the prologue into executable memory followed by a jump to
// the first instruction it did not copy.
func (e *Engine) trampoline(target uintptr, prologue []byte) (uintptr, error) {
	size := len(prologue) + maxJumpBack
	tramp, err := e.mem.Alloc(size)
	if err != nil {
		return 0, fmt.Errorf("allocate trampoline: %w", err)
	}
	back := e.arch.JumpBack(tramp+uintptr(len(prologue)), target+uintptr(len(prologue)), prologue)
	code := make([]byte, 0, len(prologue)+len(back))
	code = append(code, prologue...)
	code = append(code, back...)
	if err := e.mem.Write(tramp, code); err != nil {
		return 0, fmt.Errorf("write trampoline at %#x: %w", tramp, err)
	}
	return tramp, nil
}

// Lookup returns the hook installed at target.
func (e *Engine) Lookup(target uintptr) (*Hook, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	h, ok := e.hooks[target]
	return h, ok
}

// Len is the number of hooks the engine owns.
func (e *Engine) Len() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.hooks)
}

// Discard restores h and drops it from the engine. The trampoline is left
// allocated: a thread may still be running inside it.
func (e *Engine) Discard(h *Hook) error {
	if _, ok := e.Lookup(h.target); !ok {
		return ErrHookNotFound
	}
	if err := h.Restore(); err != nil {
		return err
	}
	e.forget(h.target)
	return nil
}

func (e *Engine) forget(target uintptr) {
	e.lock.Lock()
	defer e.lock.Unlock()
	delete(e.hooks, target)
}

func padNop(seq []byte, length int) []byte {
	out := make([]byte, length)
	copy(out, seq)
	for i := len(seq); i < length; i++ {
		out[i] = 0x90 // NOP
	}
	return out
}
