// Copyright (C) 2022 K2 Cyber Security Inc.

// Package testutil provides a synthetic address space and a toy machine that
// executes hooked functions by following the jumps written into it.
package testutil

import (
	"fmt"
	"sync"
)

// Filler is what unmapped bytes read as: INT3, which also ends decoding.
const Filler = 0xcc

// AllocBase is the first address Alloc hands out.
const AllocBase uintptr = 0x70000000

// Memory is a sparse byte-addressed space implementing dxgihook.Memory.
type Memory struct {
	mu    sync.Mutex
	bytes map[uintptr]byte
	next  uintptr

	writes int
	allocs int

	// FailWrite, if set, is consulted before every write.
	FailWrite func(addr uintptr, data []byte) error
	// FailAlloc, if set, is consulted before every allocation.
	FailAlloc func(size int) error
}

// NewMemory returns an empty space.
func NewMemory() *Memory {
	return &Memory{bytes: make(map[uintptr]byte), next: AllocBase}
}

// Load places code at addr without counting as a write.
func (m *Memory) Load(addr uintptr, code []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range code {
		m.bytes[addr+uintptr(i)] = b
	}
}

// Bytes is Read without an error.
func (m *Memory) Bytes(addr uintptr, size int) []byte {
	b, _ := m.Read(addr, size)
	return b
}

func (m *Memory) Read(addr uintptr, size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, size)
	for i := range out {
		b, ok := m.bytes[addr+uintptr(i)]
		if !ok {
			b = Filler
		}
		out[i] = b
	}
	return out, nil
}

func (m *Memory) Write(addr uintptr, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrite != nil {
		if err := m.FailWrite(addr, data); err != nil {
			return err
		}
	}
	for i, b := range data {
		m.bytes[addr+uintptr(i)] = b
	}
	m.writes++
	return nil
}

func (m *Memory) Alloc(size int) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAlloc != nil {
		if err := m.FailAlloc(size); err != nil {
			return 0, err
		}
	}
	if size <= 0 {
		return 0, fmt.Errorf("alloc %d bytes", size)
	}
	addr := m.next
	// keep blocks apart and aligned
	m.next += uintptr(size+0xff) &^ 0xff
	m.allocs++
	return addr, nil
}

// Writes counts successful writes.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Allocs counts successful allocations.
func (m *Memory) Allocs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocs
}
