// Copyright (C) 2022 K2 Cyber Security Inc.

package dxgihook

// NativeArch is the encoder for the running process.
func NativeArch() Arch { return X86 }
