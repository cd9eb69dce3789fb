// Copyright (C) 2022 K2 Cyber Security Inc.

package dxgihook

import "syscall"

// NativeInvoker calls stdcall (x86) and Microsoft x64 functions.
var NativeInvoker Invoker = InvokerFunc(func(fn uintptr, args ...uintptr) uintptr {
	ret, _, _ := syscall.SyscallN(fn, args...)
	return ret
})
