// Copyright (C) 2022 K2 Cyber Security Inc.

// Package overlay arms the Present and ResizeBuffers hooks inside a host
// process and fans each call out to the overlay renderers before chaining to
// the real swap chain.
package overlay

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/k2io/dxgihook"
	"github.com/k2io/dxgihook/offsets"
)

var (
	ErrNoRecord      = errors.New("overlay: offsets not prepared")
	ErrBusy          = errors.New("overlay: installation check already running")
	ErrModuleAbsent  = errors.New("overlay: graphics module not loaded")
	ErrAbandoned     = errors.New("overlay: module instance abandoned")
	ErrMismatch      = errors.New("overlay: offsets prepared for another module")
	ErrNotExecutable = errors.New("overlay: offset outside executable sections")
	ErrNoCallbacks   = errors.New("overlay: no replacement entry points")
	ErrStranded      = errors.New("overlay: earlier rollback still pending")
)

// Renderer is one overlay collaborator. Either callback may be nil.
type Renderer struct {
	Name string
	// OnPresent draws into the swap chain's back buffer.
	OnPresent func(swapChain uintptr)
	// OnResize releases whatever depends on the buffer size.
	OnResize func(swapChain uintptr)
}

// Session owns one process's hooks. It is created once, inside the host.
type Session struct {
	store      offsets.Store
	engine     *dxgihook.Engine
	invoker    dxgihook.Invoker
	modules    Modules
	log        *slog.Logger
	d3d10      Renderer
	d3d11      Renderer
	moduleName string
	ranges     func(path string) ([]dxgihook.Range, error)

	entrypoints func(*Session) (present, resize uintptr, err error)
	entryOnce   sync.Once
	presentFn   uintptr
	resizeFn    uintptr
	entryErr    error

	state atomic.Int32
	// set once both hooks are armed; renderers only run while it holds
	live atomic.Bool
	// only touched while state is Checking
	pinned    bool
	abandoned map[instance]struct{}
	// hooks a rollback could not restore, retried on every check
	stranded []*dxgihook.Hook

	present atomic.Pointer[dxgihook.Hook]
	resize  atomic.Pointer[dxgihook.Hook]
}

// State reports where installation stands.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Hooks returns the published hooks, nil until installation succeeds. A hook
// whose rollback failed stays published until it can be restored.
func (s *Session) Hooks() (present, resize *dxgihook.Hook) {
	return s.present.Load(), s.resize.Load()
}

// replacements returns the addresses the patched entry points jump to,
// creating them on first use.
func (s *Session) replacements() (present, resize uintptr, err error) {
	s.entryOnce.Do(func() {
		if s.entrypoints == nil {
			s.entryErr = ErrNoCallbacks
			return
		}
		s.presentFn, s.resizeFn, s.entryErr = s.entrypoints(s)
	})
	return s.presentFn, s.resizeFn, s.entryErr
}

func (s *Session) isAbandoned(m Module) bool {
	_, ok := s.abandoned[m.instance()]
	return ok
}

func (s *Session) abandon(m Module) {
	s.abandoned[m.instance()] = struct{}{}
}
