// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build !windows

package dxgihook

import (
	"golang.org/x/sys/unix"
)

var pageSize uintptr

func init() {
	pageSize = uintptr(unix.Getpagesize())
}

// Write stores data at addr, making the pages writable for the duration.
func (ProcessMemory) Write(addr uintptr, data []byte) error {
	size := uintptr(len(data))
	if err := protectPages(addr, size); err != nil {
		return err
	}
	copy(makeSlice(addr, size), data)
	return reProtectPages(addr, size)
}

// Alloc maps size bytes of anonymous executable memory.
func (ProcessMemory) Alloc(size int) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, err
	}
	return slicePtr(b), nil
}

func reProtectPages(addr, size uintptr) error {
	return mprotectPages(addr, size, unix.PROT_EXEC|unix.PROT_READ)
}

func protectPages(addr, size uintptr) error {
	return mprotectPages(addr, size, unix.PROT_EXEC|unix.PROT_READ|unix.PROT_WRITE)
}

func mprotectPages(addr, size uintptr, prot int) error {
	start := pageSize * (addr / pageSize)
	length := pageSize * ((addr + size + pageSize - 1 - start) / pageSize)
	for i := uintptr(0); i < length; i += pageSize {
		data := makeSlice(start+i, pageSize)
		if err := unix.Mprotect(data, prot); err != nil {
			return err
		}
	}
	return nil
}
