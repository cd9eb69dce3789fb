// Copyright (C) 2022 K2 Cyber Security Inc.

package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

// Func is the behaviour behind a synthetic function.
type Func func(args ...uintptr) uintptr

type function struct {
	code []byte
	fn   Func
}

// Machine runs calls against a Memory. A call to an address runs the Func
// registered there when its code is intact, follows the jump when it has been
// patched, and recognises a trampoline as a copied prefix of some function
// followed by a jump back into that function.
type Machine struct {
	mem *Memory

	mu    sync.RWMutex
	funcs map[uintptr]function

	depth    atomic.Int32
	maxDepth atomic.Int32
}

// maximum hops through jumps before a call is declared lost
const maxHops = 8

// MaxNesting is how deep calls may nest before the machine gives up.
const MaxNesting = 32

// NewMachine returns a machine executing out of mem.
func NewMachine(mem *Memory) *Machine {
	return &Machine{mem: mem, funcs: make(map[uintptr]function)}
}

// Define places code at addr and binds fn to it.
func (m *Machine) Define(addr uintptr, code []byte, fn Func) {
	m.mem.Load(addr, code)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[addr] = function{code: append([]byte(nil), code...), fn: fn}
}

// Native binds fn to addr with no code behind it, like a callback thunk.
func (m *Machine) Native(addr uintptr, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[addr] = function{fn: fn}
}

// MaxDepth is the deepest nesting seen so far.
func (m *Machine) MaxDepth() int { return int(m.maxDepth.Load()) }

// Invoke implements dxgihook.Invoker.
func (m *Machine) Invoke(addr uintptr, args ...uintptr) uintptr {
	for hop := 0; hop < maxHops; hop++ {
		if fn, ok := m.resolve(addr); ok {
			return m.run(fn, args)
		}
		to, ok := DecodeJump(m.mem.Bytes(addr, 14), addr)
		if !ok {
			panic(fmt.Sprintf("machine: no code at %#x: % x", addr, m.mem.Bytes(addr, 16)))
		}
		addr = to
	}
	panic(fmt.Sprintf("machine: lost after %d jumps", maxHops))
}

func (m *Machine) run(fn Func, args []uintptr) uintptr {
	d := m.depth.Add(1)
	defer m.depth.Add(-1)
	for {
		cur := m.maxDepth.Load()
		if d <= cur || m.maxDepth.CompareAndSwap(cur, d) {
			break
		}
	}
	if d > MaxNesting {
		panic("machine: runaway recursion")
	}
	return fn(args...)
}

func (m *Machine) resolve(addr uintptr) (Func, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.funcs[addr]; ok {
		if f.code == nil || bytes.Equal(m.mem.Bytes(addr, len(f.code)), f.code) {
			return f.fn, true
		}
		return nil, false
	}
	for entry, f := range m.funcs {
		for k := 1; k <= len(f.code); k++ {
			if !bytes.Equal(m.mem.Bytes(addr, k), f.code[:k]) {
				break
			}
			at := addr + uintptr(k)
			if to, ok := DecodeJump(m.mem.Bytes(at, 14), at); ok && to == entry+uintptr(k) {
				return f.fn, true
			}
		}
	}
	return nil, false
}

// DecodeJump recognises the jumps hooks write and returns their destination.
// at is the address code was read from.
func DecodeJump(code []byte, at uintptr) (uintptr, bool) {
	switch {
	case len(code) >= 13 && code[0] == 0x49 && code[1] == 0xbb &&
		code[10] == 0x41 && code[11] == 0xff && code[12] == 0xe3:
		return uintptr(binary.LittleEndian.Uint64(code[2:])), true
	case len(code) >= 12 && code[0] == 0x48 && code[1] == 0xb8 &&
		code[10] == 0xff && code[11] == 0xe0:
		return uintptr(binary.LittleEndian.Uint64(code[2:])), true
	case len(code) >= 14 && code[0] == 0xff && code[1] == 0x25 &&
		binary.LittleEndian.Uint32(code[2:]) == 0:
		return uintptr(binary.LittleEndian.Uint64(code[6:])), true
	case len(code) >= 5 && code[0] == 0xe9:
		rel := binary.LittleEndian.Uint32(code[1:])
		return uintptr(uint32(at) + 5 + rel), true
	}
	return 0, false
}
