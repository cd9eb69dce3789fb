// Copyright (C) 2022 K2 Cyber Security Inc.

// Package discovery computes, outside any target process, where Present and
// ResizeBuffers live inside the system dxgi.dll and publishes them as an
// offsets.Record for injected processes to use.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/k2io/dxgihook"
	"github.com/k2io/dxgihook/internal/logger"
	"github.com/k2io/dxgihook/offsets"
)

const (
	// ModuleName is the graphics module whose entry points are discovered.
	ModuleName = "dxgi.dll"

	factoryProc = "CreateDXGIFactory1"
	windowClass = "STATIC"
	windowTitle = "DXGI Offset Discovery"
)

var (
	ErrNoStore        = errors.New("discovery: no offset store")
	ErrNoSystem       = errors.New("discovery: not supported on this platform")
	ErrUnsupportedOS  = errors.New("discovery: operating system below baseline")
	ErrNoFactory      = errors.New("discovery: " + factoryProc + " not exported")
	ErrOutsideModule  = errors.New("discovery: entry point outside module")
	ErrNotExecutable  = errors.New("discovery: entry point outside executable sections")
	ErrNoEntrypoints  = errors.New("discovery: swap chain vtable incomplete")
	ErrInvalidLibrary = errors.New("discovery: library has no base address")
)

type config struct {
	system System
	logger *slog.Logger
	ranges func(path string) ([]dxgihook.Range, error)
}

// Option configures a discovery run.
type Option func(*config)

// WithSystem replaces the operating-system surface.
func WithSystem(s System) Option {
	return func(c *config) {
		c.system = s
	}
}

// WithLogger sets the diagnostic sink.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithRangeCheck sets how the module image's code sections are read; nil
// disables the check.
func WithRangeCheck(fn func(path string) ([]dxgihook.Range, error)) Option {
	return func(c *config) {
		c.ranges = fn
	}
}

func newConfig(opts []Option) *config {
	c := &config{
		system: NativeSystem(),
		ranges: dxgihook.ExecutableRanges,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.For("discovery")
	}
	return c
}

// Prepare discovers the offsets and saves them into store. It never fails
// loudly: when anything goes wrong the store holds the empty record and the
// reason is logged.
func Prepare(store offsets.Store, opts ...Option) {
	c := newConfig(opts)
	if _, err := run(store, c); err != nil {
		c.logger.Warn("dxgi offsets unavailable", "err", err)
	}
}

// Run is Prepare returning the saved record and the failure, for callers that
// report it themselves.
func Run(store offsets.Store, opts ...Option) (offsets.Record, error) {
	return run(store, newConfig(opts))
}

func run(store offsets.Store, c *config) (offsets.Record, error) {
	if store == nil {
		return offsets.Record{}, ErrNoStore
	}
	log := c.logger
	log.Info("preparing static data for dxgi injection")

	if err := store.Save(offsets.Record{}); err != nil {
		return offsets.Record{}, fmt.Errorf("discovery: reset record: %w", err)
	}
	if c.system == nil {
		return offsets.Record{}, ErrNoSystem
	}
	sys := c.system

	v, err := sys.Version()
	if err != nil {
		return offsets.Record{}, fmt.Errorf("discovery: os version: %w", err)
	}
	if !v.Supported() {
		return offsets.Record{}, fmt.Errorf("%w: %d.%d.%d", ErrUnsupportedOS, v.Major, v.Minor, v.Build)
	}

	lib, err := sys.LoadLibrary(ModuleName)
	if err != nil {
		return offsets.Record{}, fmt.Errorf("discovery: load %s: %w", ModuleName, err)
	}
	defer lib.Release()

	path, err := lib.Path()
	if err != nil {
		return offsets.Record{}, fmt.Errorf("discovery: module path: %w", err)
	}
	proc, err := lib.Proc(factoryProc)
	if err != nil || proc == 0 {
		return offsets.Record{}, fmt.Errorf("%w: %v", ErrNoFactory, err)
	}
	log.Debug("resolved factory", "proc", factoryProc, "address", fmt.Sprintf("%#x", proc))

	window, err := sys.CreateWindow(windowClass, windowTitle)
	if err != nil {
		return offsets.Record{}, fmt.Errorf("discovery: hidden window: %w", err)
	}
	defer window.Release()

	factory, err := sys.CreateFactory(proc)
	if err != nil {
		return offsets.Record{}, fmt.Errorf("discovery: %s: %w", factoryProc, err)
	}
	defer factory.Release()

	adapter, err := factory.Adapter(0)
	if err != nil {
		return offsets.Record{}, fmt.Errorf("discovery: adapter 0: %w", err)
	}
	defer adapter.Release()

	chain, err := adapter.SwapChain(window)
	if err != nil {
		return offsets.Record{}, fmt.Errorf("discovery: swap chain: %w", err)
	}
	defer chain.Release()

	present, resize, err := chain.Entrypoints()
	if err != nil {
		return offsets.Record{}, fmt.Errorf("discovery: vtable: %w", err)
	}
	if present == 0 || resize == 0 {
		return offsets.Record{}, ErrNoEntrypoints
	}

	base := lib.Base()
	if base == 0 {
		return offsets.Record{}, ErrInvalidLibrary
	}
	rec := offsets.Record{Path: path}
	if rec.Present, err = offsetOf(present, base); err != nil {
		return offsets.Record{}, fmt.Errorf("present: %w", err)
	}
	if rec.Resize, err = offsetOf(resize, base); err != nil {
		return offsets.Record{}, fmt.Errorf("resize: %w", err)
	}
	if err := c.checkExecutable(rec, log); err != nil {
		return offsets.Record{}, err
	}

	if err := store.Save(rec); err != nil {
		return offsets.Record{}, fmt.Errorf("discovery: save record: %w", err)
	}
	log.Info("dxgi offsets prepared",
		"path", rec.Path,
		"present", fmt.Sprintf("%#x", rec.Present),
		"resize", fmt.Sprintf("%#x", rec.Resize))
	return rec, nil
}

func offsetOf(addr, base uintptr) (uint64, error) {
	if addr <= base {
		return 0, fmt.Errorf("%w: %#x below base %#x", ErrOutsideModule, addr, base)
	}
	return uint64(addr - base), nil
}

// checkExecutable rejects offsets that do not land in the module's code, e.g.
// a vtable slot pointing at a thunk in another module. An image that cannot be
// read is not a reason to give up.
func (c *config) checkExecutable(rec offsets.Record, log *slog.Logger) error {
	if c.ranges == nil {
		return nil
	}
	ranges, err := c.ranges(rec.Path)
	if err != nil {
		log.Debug("module image not inspected", "path", rec.Path, "err", err)
		return nil
	}
	for name, off := range map[string]uint64{"present": rec.Present, "resize": rec.Resize} {
		if !dxgihook.InRanges(ranges, off) {
			return fmt.Errorf("%s at %#x: %w", name, off, ErrNotExecutable)
		}
	}
	return nil
}
