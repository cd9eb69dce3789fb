// Copyright (C) 2022 K2 Cyber Security Inc.

package dxgihook

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

// Write stores data at addr, making the pages writable for the duration and
// flushing the instruction cache afterwards.
func (ProcessMemory) Write(addr uintptr, data []byte) error {
	size := uintptr(len(data))
	var oldProtect uint32
	if err := windows.VirtualProtect(addr, size, windows.PAGE_EXECUTE_READWRITE, &oldProtect); err != nil {
		return fmt.Errorf("VirtualProtect: %w", err)
	}
	copy(makeSlice(addr, size), data)
	var tmp uint32
	if err := windows.VirtualProtect(addr, size, oldProtect, &tmp); err != nil {
		return fmt.Errorf("VirtualProtect restore: %w", err)
	}
	procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), addr, size)
	return nil
}

// Alloc commits size bytes of executable memory.
func (ProcessMemory) Alloc(size int) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return 0, fmt.Errorf("VirtualAlloc: %w", err)
	}
	return addr, nil
}
