// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build !amd64 && !386

package dxgihook

// NativeArch is nil where no encoder exists; engines built with it refuse to
// hook with ErrUnsupportedArch.
func NativeArch() Arch { return nil }
