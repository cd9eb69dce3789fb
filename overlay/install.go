// Copyright (C) 2022 K2 Cyber Security Inc.

package overlay

import (
	"errors"
	"fmt"

	"github.com/k2io/dxgihook"
	"github.com/k2io/dxgihook/offsets"
)

// CheckAndInstallHooks arms the hooks if the graphics module is loaded and
// matches the prepared offsets. It is meant to be called often, e.g. once per
// candidate frame; calls after the hooks are armed, and calls made while a
// check is already running, return at once. Nothing is reported to the
// caller: failures are logged and leave the session unhooked.
func (s *Session) CheckAndInstallHooks(policy Policy) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("installation check panicked", "panic", r)
		}
	}()
	if err := s.check(policy); err != nil {
		s.logOutcome(err)
	}
}

func (s *Session) logOutcome(err error) {
	switch {
	case errors.Is(err, ErrNoRecord), errors.Is(err, ErrModuleAbsent), errors.Is(err, ErrAbandoned),
		errors.Is(err, ErrStranded):
		s.log.Debug("hooks not installed", "err", err)
	case errors.Is(err, ErrBusy):
		s.log.Debug("recursive installation check ignored")
	case errors.Is(err, ErrMismatch):
		s.log.Info("hooks not installed", "err", err)
	default:
		s.log.Warn("hooks not installed", "err", err)
	}
}

func (s *Session) check(policy Policy) error {
	if s.State() == StateHooked {
		return nil
	}
	if s.store == nil {
		return ErrNoRecord
	}
	rec, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoRecord, err)
	}
	if !rec.Valid() {
		return ErrNoRecord
	}

	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateChecking)) {
		if s.State() == StateHooked {
			return nil
		}
		return ErrBusy
	}
	next := StateIdle
	defer func() { s.state.Store(int32(next)) }()

	if !s.releaseStranded() {
		return ErrStranded
	}

	mod, ok := s.modules.Loaded(s.moduleName)
	if !ok {
		return ErrModuleAbsent
	}
	log := s.log.With("module", mod.Name, "path", mod.Path)
	log.Debug("graphics module found", "base", fmt.Sprintf("%#x", mod.Base))
	if s.isAbandoned(mod) {
		return ErrAbandoned
	}

	if !s.pinned {
		if err := s.modules.PinSelf(); err != nil {
			return fmt.Errorf("overlay: pin hook module: %w", err)
		}
		s.pinned = true
	}

	if !rec.Matches(mod.Path) {
		if policy == PolicyStrict {
			log.Warn("incompatible graphics module, giving up on it", "prepared", rec.Path)
			s.abandon(mod)
			return fmt.Errorf("%w: %s", ErrMismatch, rec.Path)
		}
		log.Info("graphics module differs from prepared offsets, will retry", "prepared", rec.Path)
		return fmt.Errorf("%w: %s", ErrMismatch, rec.Path)
	}

	if err := s.checkExecutable(mod, rec); err != nil {
		s.abandon(mod)
		return err
	}

	log.Info("hooking", "host", s.modules.Executable())
	presentAt := mod.Base + uintptr(rec.Present)
	resizeAt := mod.Base + uintptr(rec.Resize)
	if err := s.install(presentAt, resizeAt); err != nil {
		s.abandon(mod)
		return err
	}
	next = StateHooked
	log.Info("hooks armed",
		"present", fmt.Sprintf("%#x", presentAt),
		"resize", fmt.Sprintf("%#x", resizeAt))
	return nil
}

func (s *Session) checkExecutable(mod Module, rec offsets.Record) error {
	if s.ranges == nil {
		return nil
	}
	ranges, err := s.ranges(mod.Path)
	if err != nil {
		s.log.Debug("module image not inspected", "path", mod.Path, "err", err)
		return nil
	}
	if !dxgihook.InRanges(ranges, rec.Present) || !dxgihook.InRanges(ranges, rec.Resize) {
		return fmt.Errorf("%w: present %#x resize %#x", ErrNotExecutable, rec.Present, rec.Resize)
	}
	return nil
}

// install arms both hooks or neither. Both are published before either is
// armed so a host thread entering a replacement always finds its hook.
func (s *Session) install(presentAt, resizeAt uintptr) error {
	presentFn, resizeFn, err := s.replacements()
	if err != nil {
		return err
	}
	ph, err := s.engine.Prepare(presentAt, presentFn)
	if err != nil {
		return fmt.Errorf("overlay: present: %w", err)
	}
	rh, err := s.engine.Prepare(resizeAt, resizeFn)
	if err != nil {
		s.rollback(ph)
		return fmt.Errorf("overlay: resize: %w", err)
	}
	s.present.Store(ph)
	s.resize.Store(rh)

	if err := ph.Inject(); err != nil {
		s.rollback(ph, rh)
		return fmt.Errorf("overlay: arm present: %w", err)
	}
	if err := rh.Inject(); err != nil {
		s.rollback(ph, rh)
		return fmt.Errorf("overlay: arm resize: %w", err)
	}
	s.live.Store(true)
	return nil
}

func (s *Session) rollback(hooks ...*dxgihook.Hook) {
	for _, h := range hooks {
		if err := s.engine.Discard(h); err != nil {
			// still reachable from the host, so it stays published
			s.log.Error("rollback failed, hook left in place",
				"target", fmt.Sprintf("%#x", h.Target()), "err", err)
			s.stranded = append(s.stranded, h)
			continue
		}
		s.unpublish(h)
	}
}

// releaseStranded retries the hooks a rollback left armed and reports whether
// none remain.
func (s *Session) releaseStranded() bool {
	kept := s.stranded[:0]
	for _, h := range s.stranded {
		if err := s.engine.Discard(h); err != nil {
			s.log.Debug("stranded hook still armed",
				"target", fmt.Sprintf("%#x", h.Target()), "err", err)
			kept = append(kept, h)
			continue
		}
		s.unpublish(h)
		s.log.Info("stranded hook restored", "target", fmt.Sprintf("%#x", h.Target()))
	}
	s.stranded = kept
	return len(kept) == 0
}

func (s *Session) unpublish(h *dxgihook.Hook) {
	s.present.CompareAndSwap(h, nil)
	s.resize.CompareAndSwap(h, nil)
}
