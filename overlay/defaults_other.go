// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build !windows

package overlay

import (
	"os"

	"github.com/k2io/dxgihook"
)

func defaultInvoker() dxgihook.Invoker { return nil }

func defaultModules() Modules { return noModules{} }

func nativeEntrypoints(*Session) (uintptr, uintptr, error) {
	return 0, 0, ErrNoCallbacks
}

// noModules never finds a graphics module.
type noModules struct{}

func (noModules) Loaded(string) (Module, bool) { return Module{}, false }
func (noModules) PinSelf() error               { return nil }

func (noModules) Executable() string {
	exe, _ := os.Executable()
	return exe
}
