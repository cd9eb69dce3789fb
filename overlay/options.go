// Copyright (C) 2022 K2 Cyber Security Inc.

package overlay

import (
	"log/slog"

	"github.com/k2io/dxgihook"
	"github.com/k2io/dxgihook/internal/logger"
	"github.com/k2io/dxgihook/offsets"
)

// ModuleName is the graphics module hooked by default.
const ModuleName = "dxgi.dll"

type config struct {
	mem         dxgihook.Memory
	arch        dxgihook.Arch
	invoker     dxgihook.Invoker
	modules     Modules
	logger      *slog.Logger
	d3d10       Renderer
	d3d11       Renderer
	moduleName  string
	ranges      func(path string) ([]dxgihook.Range, error)
	entrypoints func(*Session) (uintptr, uintptr, error)
}

// Option configures a Session.
type Option func(*config)

// WithMemory sets how code is read and patched.
func WithMemory(m dxgihook.Memory) Option {
	return func(c *config) {
		c.mem = m
	}
}

// WithArch sets the jump encoding.
func WithArch(a dxgihook.Arch) Option {
	return func(c *config) {
		c.arch = a
	}
}

// WithInvoker sets how the original functions are called.
func WithInvoker(inv dxgihook.Invoker) Option {
	return func(c *config) {
		c.invoker = inv
	}
}

// WithModules sets the view of the loaded modules.
func WithModules(m Modules) Option {
	return func(c *config) {
		c.modules = m
	}
}

// WithLogger sets the diagnostic sink.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithDebugOutput sends the session's diagnostics to the attached debugger at
// level and above. Injected hosts have no console and rarely call logger setup.
func WithDebugOutput(level slog.Level) Option {
	return func(c *config) {
		c.logger = logger.Debugger("overlay", level)
	}
}

// WithD3D10 sets the Direct3D 10 overlay renderer.
func WithD3D10(r Renderer) Option {
	return func(c *config) {
		c.d3d10 = r
	}
}

// WithD3D11 sets the Direct3D 11 overlay renderer.
func WithD3D11(r Renderer) Option {
	return func(c *config) {
		c.d3d11 = r
	}
}

// WithEntrypoints uses fixed replacement addresses instead of generating
// callbacks for the session's Present and ResizeBuffers.
func WithEntrypoints(present, resize uintptr) Option {
	return func(c *config) {
		c.entrypoints = func(*Session) (uintptr, uintptr, error) {
			return present, resize, nil
		}
	}
}

// WithRangeCheck sets how the module image's code sections are read before
// arming; nil disables the check.
func WithRangeCheck(fn func(path string) ([]dxgihook.Range, error)) Option {
	return func(c *config) {
		c.ranges = fn
	}
}

// WithModuleName hooks a module other than dxgi.dll.
func WithModuleName(name string) Option {
	return func(c *config) {
		c.moduleName = name
	}
}

// New returns an idle session reading its offsets from store.
func New(store offsets.Store, opts ...Option) *Session {
	c := &config{
		mem:         dxgihook.ProcessMemory{},
		arch:        dxgihook.NativeArch(),
		invoker:     defaultInvoker(),
		modules:     defaultModules(),
		moduleName:  ModuleName,
		ranges:      dxgihook.ExecutableRanges,
		entrypoints: nativeEntrypoints,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.For("overlay")
	}
	return &Session{
		store:       store,
		engine:      dxgihook.NewEngine(c.mem, c.arch),
		invoker:     c.invoker,
		modules:     c.modules,
		log:         c.logger,
		d3d10:       c.d3d10,
		d3d11:       c.d3d11,
		moduleName:  c.moduleName,
		ranges:      c.ranges,
		entrypoints: c.entrypoints,
		abandoned:   make(map[instance]struct{}),
	}
}
