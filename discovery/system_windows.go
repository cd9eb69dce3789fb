// Copyright (C) 2022 K2 Cyber Security Inc.

//go:build windows

package discovery

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"

	"github.com/k2io/dxgihook/offsets"
)

const (
	d3d11SDKVersion = 7
	d3d10SDKVersion = 29

	d3dDriverTypeUnknown    = 0
	d3d10DriverTypeHardware = 0

	dxgiFormatR8G8B8A8Unorm     = 28
	dxgiUsageRenderTargetOutput = 0x20
	dxgiSwapEffectDiscard       = 0
)

var (
	iidIDXGIFactory1 = windows.GUID{
		Data1: 0x770aae78,
		Data2: 0xf26f,
		Data3: 0x4dba,
		Data4: [8]byte{0xa8, 0x29, 0x25, 0x3c, 0x83, 0xd1, 0xb3, 0x87},
	}

	d3d11 = windows.NewLazySystemDLL("d3d11.dll")
	d3d10 = windows.NewLazySystemDLL("d3d10.dll")

	procD3D11CreateDeviceAndSwapChain = d3d11.NewProc("D3D11CreateDeviceAndSwapChain")
	procD3D10CreateDeviceAndSwapChain = d3d10.NewProc("D3D10CreateDeviceAndSwapChain")
)

type iUnknownVtbl struct {
	QueryInterface uintptr
	AddRef         uintptr
	Release        uintptr
}

type iDXGIObjectVtbl struct {
	iUnknownVtbl

	SetPrivateData          uintptr
	SetPrivateDataInterface uintptr
	GetPrivateData          uintptr
	GetParent               uintptr
}

type iDXGIFactory1 struct {
	vtbl *struct {
		iDXGIObjectVtbl

		EnumAdapters          uintptr
		MakeWindowAssociation uintptr
		GetWindowAssociation  uintptr
		CreateSwapChain       uintptr
		CreateSoftwareAdapter uintptr
		EnumAdapters1         uintptr
		IsCurrent             uintptr
	}
}

type iDXGISwapChain struct {
	vtbl *struct {
		iDXGIObjectVtbl

		GetDevice           uintptr
		Present             uintptr
		GetBuffer           uintptr
		SetFullscreenState  uintptr
		GetFullscreenState  uintptr
		GetDesc             uintptr
		ResizeBuffers       uintptr
		ResizeTarget        uintptr
		GetContainingOutput uintptr
		GetFrameStatistics  uintptr
		GetLastPresentCount uintptr
	}
}

// iUnknown is any interface; only Release is reached through it.
type iUnknown struct {
	vtbl *iUnknownVtbl
}

type dxgiSwapChainDesc struct {
	BufferDesc   dxgiModeDesc
	SampleDesc   dxgiSampleDesc
	BufferUsage  uint32
	BufferCount  uint32
	OutputWindow windows.Handle
	Windowed     uint32
	SwapEffect   uint32
	Flags        uint32
}

type dxgiSampleDesc struct {
	Count   uint32
	Quality uint32
}

type dxgiModeDesc struct {
	Width            uint32
	Height           uint32
	RefreshRate      dxgiRational
	Format           uint32
	ScanlineOrdering uint32
	Scaling          uint32
}

type dxgiRational struct {
	Numerator   uint32
	Denominator uint32
}

func release(obj unsafe.Pointer) {
	if obj == nil {
		return
	}
	u := (*iUnknown)(obj)
	syscall.SyscallN(u.vtbl.Release, uintptr(obj))
}

type nativeSystem struct{}

// NativeSystem is the live Windows surface.
func NativeSystem() System { return nativeSystem{} }

func (nativeSystem) Version() (OSVersion, error) {
	v := windows.RtlGetVersion()
	return OSVersion{
		Major: v.MajorVersion,
		Minor: v.MinorVersion,
		Build: v.BuildNumber,
	}, nil
}

func (nativeSystem) LoadLibrary(name string) (Library, error) {
	h, err := windows.LoadLibraryEx(name, 0, windows.LOAD_LIBRARY_SEARCH_SYSTEM32)
	if err != nil {
		return nil, err
	}
	return &library{h: h}, nil
}

func (nativeSystem) CreateWindow(class, title string) (Window, error) {
	cls, err := windows.UTF16PtrFromString(class)
	if err != nil {
		return nil, err
	}
	ttl, err := windows.UTF16PtrFromString(title)
	if err != nil {
		return nil, err
	}
	hwnd := win.CreateWindowEx(0, cls, ttl, win.WS_OVERLAPPEDWINDOW,
		win.CW_USEDEFAULT, win.CW_USEDEFAULT, 640, 480,
		0, 0, win.GetModuleHandle(nil), nil)
	if hwnd == 0 {
		return nil, fmt.Errorf("CreateWindowEx %s: %w", class, windows.GetLastError())
	}
	return window(hwnd), nil
}

func (nativeSystem) CreateFactory(proc uintptr) (Factory, error) {
	var f *iDXGIFactory1
	hr, _, _ := syscall.SyscallN(proc,
		uintptr(unsafe.Pointer(&iidIDXGIFactory1)),
		uintptr(unsafe.Pointer(&f)))
	if failed(hr) {
		return nil, HRESULT(hr)
	}
	if f == nil {
		return nil, E_NOINTERFACE
	}
	return &factory{f: f}, nil
}

type library struct {
	h windows.Handle
}

func (l *library) Release() {
	windows.FreeLibrary(l.h)
}

// a module handle is the address the image is mapped at
func (l *library) Base() uintptr { return uintptr(l.h) }

func (l *library) Path() (string, error) {
	buf := make([]uint16, offsets.PathLen)
	n, err := windows.GetModuleFileName(l.h, &buf[0], uint32(len(buf)))
	if err != nil {
		return "", err
	}
	if int(n) >= len(buf) {
		return "", offsets.ErrPathTooLong
	}
	return windows.UTF16ToString(buf[:n]), nil
}

func (l *library) Proc(name string) (uintptr, error) {
	return windows.GetProcAddress(l.h, name)
}

type window win.HWND

func (w window) Release()        { win.DestroyWindow(win.HWND(w)) }
func (w window) Handle() uintptr { return uintptr(w) }

type factory struct {
	f *iDXGIFactory1
}

func (f *factory) Release() { release(unsafe.Pointer(f.f)) }

func (f *factory) Adapter(index uint32) (Adapter, error) {
	var a *iUnknown
	hr, _, _ := syscall.SyscallN(f.f.vtbl.EnumAdapters1,
		uintptr(unsafe.Pointer(f.f)),
		uintptr(index),
		uintptr(unsafe.Pointer(&a)))
	if failed(hr) {
		return nil, HRESULT(hr)
	}
	return &adapter{a: a}, nil
}

type adapter struct {
	a *iUnknown
}

func (a *adapter) Release() { release(unsafe.Pointer(a.a)) }

// SwapChain creates a throwaway device and swap chain on the adapter, trying
// Direct3D 11 first and Direct3D 10 after it.
func (a *adapter) SwapChain(w Window) (SwapChain, error) {
	desc := dxgiSwapChainDesc{
		BufferDesc: dxgiModeDesc{
			Width:       100,
			Height:      100,
			RefreshRate: dxgiRational{Numerator: 60, Denominator: 1},
			Format:      dxgiFormatR8G8B8A8Unorm,
		},
		SampleDesc:   dxgiSampleDesc{Count: 1},
		BufferUsage:  dxgiUsageRenderTargetOutput,
		BufferCount:  2,
		OutputWindow: windows.Handle(w.Handle()),
		Windowed:     1,
		SwapEffect:   dxgiSwapEffectDiscard,
	}

	sc, dev, err11 := a.d3d11(&desc)
	if err11 == nil {
		return &swapChain{sc: sc, device: dev}, nil
	}
	sc, dev, err10 := a.d3d10(&desc)
	if err10 == nil {
		return &swapChain{sc: sc, device: dev}, nil
	}
	return nil, fmt.Errorf("d3d11: %w; d3d10: %w", err11, err10)
}

func (a *adapter) d3d11(desc *dxgiSwapChainDesc) (*iDXGISwapChain, *iUnknown, error) {
	if err := procD3D11CreateDeviceAndSwapChain.Find(); err != nil {
		return nil, nil, err
	}
	var (
		sc  *iDXGISwapChain
		dev *iUnknown
		ctx *iUnknown
	)
	hr, _, _ := syscall.SyscallN(procD3D11CreateDeviceAndSwapChain.Addr(),
		uintptr(unsafe.Pointer(a.a)),
		d3dDriverTypeUnknown,
		0, // software
		0, // flags
		0, // feature levels
		0,
		d3d11SDKVersion,
		uintptr(unsafe.Pointer(desc)),
		uintptr(unsafe.Pointer(&sc)),
		uintptr(unsafe.Pointer(&dev)),
		0, // chosen feature level
		uintptr(unsafe.Pointer(&ctx)))
	if failed(hr) {
		return nil, nil, HRESULT(hr)
	}
	release(unsafe.Pointer(ctx))
	return sc, dev, nil
}

func (a *adapter) d3d10(desc *dxgiSwapChainDesc) (*iDXGISwapChain, *iUnknown, error) {
	if err := procD3D10CreateDeviceAndSwapChain.Find(); err != nil {
		return nil, nil, err
	}
	var (
		sc  *iDXGISwapChain
		dev *iUnknown
	)
	hr, _, _ := syscall.SyscallN(procD3D10CreateDeviceAndSwapChain.Addr(),
		uintptr(unsafe.Pointer(a.a)),
		d3d10DriverTypeHardware,
		0, // software
		0, // flags
		d3d10SDKVersion,
		uintptr(unsafe.Pointer(desc)),
		uintptr(unsafe.Pointer(&sc)),
		uintptr(unsafe.Pointer(&dev)))
	if failed(hr) {
		return nil, nil, HRESULT(hr)
	}
	return sc, dev, nil
}

type swapChain struct {
	sc     *iDXGISwapChain
	device *iUnknown
}

func (s *swapChain) Release() {
	release(unsafe.Pointer(s.sc))
	release(unsafe.Pointer(s.device))
}

func (s *swapChain) Entrypoints() (present, resize uintptr, err error) {
	if s.sc == nil || s.sc.vtbl == nil {
		return 0, 0, E_NOINTERFACE
	}
	return s.sc.vtbl.Present, s.sc.vtbl.ResizeBuffers, nil
}
