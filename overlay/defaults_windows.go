// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build windows

package overlay

import (
	"golang.org/x/sys/windows"

	"github.com/k2io/dxgihook"
)

func defaultInvoker() dxgihook.Invoker { return dxgihook.NativeInvoker }

func defaultModules() Modules { return processModules{} }

// nativeEntrypoints turns the session's dispatchers into stdcall function
// pointers. Callbacks are never freed, so this runs once per session.
func nativeEntrypoints(s *Session) (present, resize uintptr, err error) {
	present = windows.NewCallback(func(swapChain, syncInterval, flags uintptr) uintptr {
		return s.Present(swapChain, syncInterval, flags)
	})
	resize = windows.NewCallback(func(swapChain, count, width, height, format, flags uintptr) uintptr {
		return s.ResizeBuffers(swapChain, count, width, height, format, flags)
	})
	return present, resize, nil
}
