// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build windows

package overlay

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// any address inside this image works for GET_MODULE_HANDLE_EX_FLAG_FROM_ADDRESS
var pinAnchor byte

type processModules struct{}

func (processModules) Loaded(name string) (Module, bool) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return Module{}, false
	}
	var h windows.Handle
	if err := windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, p, &h); err != nil {
		return Module{}, false
	}
	buf := make([]uint16, windows.MAX_LONG_PATH)
	n, err := windows.GetModuleFileName(h, &buf[0], uint32(len(buf)))
	if err != nil {
		return Module{}, false
	}
	return Module{
		Name: name,
		Path: windows.UTF16ToString(buf[:n]),
		Base: uintptr(h),
	}, true
}

func (processModules) PinSelf() error {
	var h windows.Handle
	return windows.GetModuleHandleEx(
		windows.GET_MODULE_HANDLE_EX_FLAG_FROM_ADDRESS|windows.GET_MODULE_HANDLE_EX_FLAG_PIN,
		(*uint16)(unsafe.Pointer(&pinAnchor)), &h)
}

func (processModules) Executable() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return exe
}
