// Copyright (C) 2022 K2 Cyber Security Inc.

package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/k2io/dxgihook"
)

// E_FAIL, returned when the original could not be reached
const hresultFail uintptr = 0x80004005

// Present replaces IDXGISwapChain::Present. The renderers draw first, then the
// original runs and its HRESULT is returned as is.
func (s *Session) Present(swapChain, syncInterval, flags uintptr) uintptr {
	if s.log.Enabled(context.Background(), slog.LevelDebug) {
		s.log.Debug("present", "swapchain", fmt.Sprintf("%#x", swapChain),
			"sync", syncInterval, "flags", flags)
	}
	if s.live.Load() {
		s.notify(s.d3d10, "present", s.d3d10.OnPresent, swapChain)
		s.notify(s.d3d11, "present", s.d3d11.OnPresent, swapChain)
	}
	return s.passthrough(&s.present, "Present", swapChain, syncInterval, flags)
}

// ResizeBuffers replaces IDXGISwapChain::ResizeBuffers. Each renderer hears
// about the resize once, before the buffers change.
func (s *Session) ResizeBuffers(swapChain, count, width, height, format, flags uintptr) uintptr {
	if s.log.Enabled(context.Background(), slog.LevelDebug) {
		s.log.Debug("resize", "swapchain", fmt.Sprintf("%#x", swapChain),
			"count", count, "width", width, "height", height, "format", format, "flags", flags)
	}
	if s.live.Load() {
		s.notify(s.d3d10, "resize", s.d3d10.OnResize, swapChain)
		s.notify(s.d3d11, "resize", s.d3d11.OnResize, swapChain)
	}
	return s.passthrough(&s.resize, "ResizeBuffers", swapChain, count, width, height, format, flags)
}

func (s *Session) notify(r Renderer, event string, fn func(uintptr), swapChain uintptr) {
	if fn == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("renderer panicked", "renderer", r.Name, "event", event, "panic", p)
		}
	}()
	fn(swapChain)
}

func (s *Session) passthrough(slot *atomic.Pointer[dxgihook.Hook], name string, args ...uintptr) (ret uintptr) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("call through panicked", "func", name, "panic", p)
			ret = hresultFail
		}
	}()
	h := slot.Load()
	if h == nil || s.invoker == nil {
		s.log.Error("no way back to the original", "func", name)
		return hresultFail
	}
	ret, err := h.Passthrough(s.invoker, args...)
	switch {
	case errors.Is(err, dxgihook.ErrCallSkipped):
		s.log.Error("original not called", "func", name, "err", err)
		return hresultFail
	case err != nil:
		s.log.Warn("hook toggling failed", "func", name, "err", err)
	}
	return ret
}
