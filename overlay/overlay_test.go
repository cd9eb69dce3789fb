// Copyright (C) 2022 K2 Cyber Security Inc.

package overlay

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/k2io/dxgihook"
	"github.com/k2io/dxgihook/internal/testutil"
	"github.com/k2io/dxgihook/offsets"
)

const (
	dxgiPath  = `C:\Windows\System32\dxgi.dll`
	dxgiBase  = uintptr(0x7ffb10000000)
	presentAt = 0x1620
	resizeAt  = 0x2f40

	presentThunk = uintptr(0x50000000)
	resizeThunk  = uintptr(0x50001000)
)

var (
	presentCode = []byte{
		0x48, 0x89, 0x5c, 0x24, 0x10, // mov [rsp+10h],rbx
		0x48, 0x89, 0x74, 0x24, 0x18, // mov [rsp+18h],rsi
		0x55,       // push rbp
		0x57,       // push rdi
		0x41, 0x56, // push r14
	}
	resizeCode = []byte{
		0x4c, 0x8b, 0xdc, // mov r11,rsp
		0x49, 0x89, 0x5b, 0x08, // mov [r11+8],rbx
		0x49, 0x89, 0x6b, 0x10, // mov [r11+10h],rbp
		0x49, 0x89, 0x73, 0x18, // mov [r11+18h],rsi
	}
)

type fakeModules struct {
	mu      sync.Mutex
	loaded  map[string]Module
	pinErr  error
	pins    int
	lookups int
	// onLoaded runs inside every lookup
	onLoaded func()
}

func (m *fakeModules) Loaded(name string) (Module, bool) {
	m.mu.Lock()
	m.lookups++
	mod, ok := m.loaded[name]
	hook := m.onLoaded
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return mod, ok
}

func (m *fakeModules) PinSelf() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pinErr != nil {
		return m.pinErr
	}
	m.pins++
	return nil
}

func (m *fakeModules) Executable() string { return `C:\Games\host.exe` }

func (m *fakeModules) load(mod Module) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded[mod.Name] = mod
}

// host is a process with dxgi.dll mapped into a synthetic address space.
type host struct {
	t       *testing.T
	mem     *testutil.Memory
	machine *testutil.Machine
	store   *offsets.MemoryStore
	modules *fakeModules
	session *Session

	mu     sync.Mutex
	events []string
	result uintptr
}

func newHost(t *testing.T, opts ...Option) *host {
	t.Helper()
	h := &host{
		t:       t,
		mem:     testutil.NewMemory(),
		store:   offsets.NewMemoryStore(),
		modules: &fakeModules{loaded: make(map[string]Module)},
	}
	h.machine = testutil.NewMachine(h.mem)
	h.defineModule(dxgiBase)
	h.modules.load(Module{Name: ModuleName, Path: dxgiPath, Base: dxgiBase})

	opts = append([]Option{
		WithMemory(h.mem),
		WithArch(dxgihook.AMD64),
		WithInvoker(h.machine),
		WithModules(h.modules),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithEntrypoints(presentThunk, resizeThunk),
		WithRangeCheck(nil),
		WithD3D10(h.renderer("d3d10")),
		WithD3D11(h.renderer("d3d11")),
	}, opts...)
	h.session = New(h.store, opts...)

	h.machine.Native(presentThunk, func(args ...uintptr) uintptr {
		return h.session.Present(args[0], args[1], args[2])
	})
	h.machine.Native(resizeThunk, func(args ...uintptr) uintptr {
		return h.session.ResizeBuffers(args[0], args[1], args[2], args[3], args[4], args[5])
	})
	return h
}

// defineModule places Present and ResizeBuffers of a dxgi.dll mapped at base.
func (h *host) defineModule(base uintptr) {
	h.machine.Define(base+presentAt, presentCode, func(args ...uintptr) uintptr {
		h.record("original present")
		return h.currentResult()
	})
	h.machine.Define(base+resizeAt, resizeCode, func(args ...uintptr) uintptr {
		h.record("original resize")
		return h.currentResult()
	})
}

func (h *host) renderer(name string) Renderer {
	return Renderer{
		Name:      name,
		OnPresent: func(uintptr) { h.record(name + " present") },
		OnResize:  func(uintptr) { h.record(name + " resize") },
	}
}

func (h *host) record(e string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *host) currentResult() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func (h *host) setResult(r uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result = r
}

func (h *host) takeEvents() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.events
	h.events = nil
	return e
}

func (h *host) prepare(path string) {
	h.t.Helper()
	require.NoError(h.t, h.store.Save(offsets.Record{Path: path, Present: presentAt, Resize: resizeAt}))
}

func (h *host) present(sc, interval, flags uintptr) uintptr {
	return h.machine.Invoke(dxgiBase+presentAt, sc, interval, flags)
}

func (h *host) resize(sc, count, width, height, format, flags uintptr) uintptr {
	return h.machine.Invoke(dxgiBase+resizeAt, sc, count, width, height, format, flags)
}

func (h *host) pristine() bool {
	return string(h.mem.Bytes(dxgiBase+presentAt, len(presentCode))) == string(presentCode) &&
		string(h.mem.Bytes(dxgiBase+resizeAt, len(resizeCode))) == string(resizeCode)
}

var errBoom = errors.New("boom")
