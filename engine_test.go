// Copyright (C) 2022 K2 Cyber Security Inc.

package dxgihook

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k2io/dxgihook/internal/testutil"
)

const (
	targetAddr      uintptr = 0x180001000
	replacementAddr uintptr = 0x50000000
)

type fixture struct {
	mem      *testutil.Memory
	machine  *testutil.Machine
	engine   *Engine
	original atomic.Int32
	replaced atomic.Int32
}

// newFixture defines a function at targetAddr that returns its first argument
// plus one, and a replacement that returns zero.
func newFixture(t *testing.T, arch Arch, target uintptr, code []byte) *fixture {
	t.Helper()
	f := &fixture{mem: testutil.NewMemory()}
	f.machine = testutil.NewMachine(f.mem)
	f.machine.Define(target, code, func(args ...uintptr) uintptr {
		f.original.Add(1)
		return args[0] + 1
	})
	f.machine.Native(replacementAddr, func(args ...uintptr) uintptr {
		f.replaced.Add(1)
		return 0
	})
	f.engine = NewEngine(f.mem, arch)
	return f
}

func TestSetupRelocatable(t *testing.T) {
	f := newFixture(t, AMD64, targetAddr, presentPrologue)

	h, err := f.engine.Setup(targetAddr, replacementAddr)
	require.NoError(t, err)
	assert.True(t, h.Armed())
	assert.Equal(t, presentPrologue, h.Original())
	assert.Equal(t, 1, f.engine.Len())

	patched := f.mem.Bytes(targetAddr, len(presentPrologue))
	assert.Equal(t, padNop(r11Jump(replacementAddr), len(presentPrologue)), patched)

	require.NotZero(t, h.Trampoline())
	assert.Equal(t, h.Trampoline(), h.Call())
	tramp := f.mem.Bytes(h.Trampoline(), len(presentPrologue)+13)
	assert.Equal(t, presentPrologue, tramp[:len(presentPrologue)])
	back, ok := testutil.DecodeJump(tramp[len(presentPrologue):], h.Trampoline()+uintptr(len(presentPrologue)))
	require.True(t, ok)
	assert.Equal(t, targetAddr+uintptr(len(presentPrologue)), back)

	// the host lands in the replacement, the trampoline runs the original
	assert.Equal(t, uintptr(0), f.machine.Invoke(targetAddr, 41))
	assert.Equal(t, uintptr(42), f.machine.Invoke(h.Call(), 41))
	assert.Equal(t, int32(1), f.replaced.Load())
	assert.Equal(t, int32(1), f.original.Load())
}

func TestSetupJumpBackAvoidsUsedRegister(t *testing.T) {
	f := newFixture(t, AMD64, targetAddr, resizePrologue)

	h, err := f.engine.Setup(targetAddr, replacementAddr)
	require.NoError(t, err)
	tail := f.mem.Bytes(h.Trampoline()+uintptr(len(resizePrologue)), 12)
	assert.Equal(t, raxJump(targetAddr+uintptr(len(resizePrologue))), tail)
	assert.Equal(t, uintptr(8), f.machine.Invoke(h.Call(), 7))
}

func TestSetupNotRelocatable(t *testing.T) {
	f := newFixture(t, AMD64, targetAddr, ripPrologue)

	h, err := f.engine.Setup(targetAddr, replacementAddr)
	require.NoError(t, err)
	assert.Zero(t, h.Trampoline())
	assert.Equal(t, targetAddr, h.Call())
	assert.Zero(t, f.mem.Allocs())

	ret, err := h.Passthrough(f.machine, 9)
	require.NoError(t, err)
	assert.Equal(t, uintptr(10), ret)
	assert.True(t, h.Armed(), "re-armed after the call")
	assert.Equal(t, int32(0), f.replaced.Load())
}

func TestSetupX86(t *testing.T) {
	const target = uintptr(0x6a001000)
	f := newFixture(t, X86, target, x86Prologue)

	h, err := f.engine.Setup(target, replacementAddr)
	require.NoError(t, err)
	assert.Equal(t, X86.Jump(target, replacementAddr), f.mem.Bytes(target, 5))
	require.NotZero(t, h.Trampoline())

	ret, err := h.Passthrough(f.machine, 1)
	require.NoError(t, err)
	assert.Equal(t, uintptr(2), ret)
	assert.Equal(t, uintptr(0), f.machine.Invoke(target, 1))
}

func TestSetupErrors(t *testing.T) {
	t.Run("double hook", func(t *testing.T) {
		f := newFixture(t, AMD64, targetAddr, presentPrologue)
		_, err := f.engine.Setup(targetAddr, replacementAddr)
		require.NoError(t, err)
		writes := f.mem.Writes()

		_, err = f.engine.Setup(targetAddr, replacementAddr)
		require.ErrorIs(t, err, ErrDoubleHook)
		assert.Equal(t, writes, f.mem.Writes())
	})

	t.Run("short function", func(t *testing.T) {
		f := newFixture(t, AMD64, targetAddr, shortFunction)
		_, err := f.engine.Setup(targetAddr, replacementAddr)
		require.ErrorIs(t, err, ErrShortFunction)
		assert.Zero(t, f.mem.Writes())
		assert.Zero(t, f.engine.Len())
	})

	t.Run("no arch", func(t *testing.T) {
		f := newFixture(t, nil, targetAddr, presentPrologue)
		_, err := f.engine.Setup(targetAddr, replacementAddr)
		require.ErrorIs(t, err, ErrUnsupportedArch)
	})

	t.Run("alloc fails", func(t *testing.T) {
		f := newFixture(t, AMD64, targetAddr, presentPrologue)
		boom := errors.New("no executable memory")
		f.mem.FailAlloc = func(int) error { return boom }
		_, err := f.engine.Setup(targetAddr, replacementAddr)
		require.ErrorIs(t, err, boom)
		assert.Zero(t, f.engine.Len())
		assert.Equal(t, presentPrologue, f.mem.Bytes(targetAddr, len(presentPrologue)))
	})

	t.Run("patch write fails", func(t *testing.T) {
		f := newFixture(t, AMD64, targetAddr, presentPrologue)
		boom := errors.New("protected")
		f.mem.FailWrite = func(addr uintptr, _ []byte) error {
			if addr == targetAddr {
				return boom
			}
			return nil
		}
		_, err := f.engine.Setup(targetAddr, replacementAddr)
		require.ErrorIs(t, err, boom)
		assert.Zero(t, f.engine.Len(), "failed hook is forgotten")
	})
}

func TestRestoreInjectIdempotent(t *testing.T) {
	f := newFixture(t, AMD64, targetAddr, presentPrologue)
	h, err := f.engine.Setup(targetAddr, replacementAddr)
	require.NoError(t, err)
	writes := f.mem.Writes()

	require.NoError(t, h.Inject())
	assert.Equal(t, writes, f.mem.Writes(), "inject on an armed hook writes nothing")

	require.NoError(t, h.Restore())
	require.NoError(t, h.Restore())
	assert.Equal(t, writes+1, f.mem.Writes())
	assert.False(t, h.Armed())
	assert.Equal(t, presentPrologue, f.mem.Bytes(targetAddr, len(presentPrologue)))
	assert.Equal(t, uintptr(6), f.machine.Invoke(targetAddr, 5))
}

func TestNotArmed(t *testing.T) {
	var h Hook
	require.ErrorIs(t, h.Restore(), ErrNotArmed)
	require.ErrorIs(t, h.Inject(), ErrNotArmed)
}

func TestPrepareDoesNotPatch(t *testing.T) {
	f := newFixture(t, AMD64, targetAddr, presentPrologue)
	h, err := f.engine.Prepare(targetAddr, replacementAddr)
	require.NoError(t, err)
	assert.False(t, h.Armed())
	assert.Equal(t, presentPrologue, f.mem.Bytes(targetAddr, len(presentPrologue)))

	got, ok := f.engine.Lookup(targetAddr)
	require.True(t, ok)
	assert.Same(t, h, got)

	require.NoError(t, h.Inject())
	assert.Equal(t, uintptr(0), f.machine.Invoke(targetAddr, 1))
}

func TestDiscard(t *testing.T) {
	f := newFixture(t, AMD64, targetAddr, presentPrologue)
	h, err := f.engine.Setup(targetAddr, replacementAddr)
	require.NoError(t, err)

	require.NoError(t, f.engine.Discard(h))
	assert.Zero(t, f.engine.Len())
	assert.Equal(t, presentPrologue, f.mem.Bytes(targetAddr, len(presentPrologue)))
	require.ErrorIs(t, f.engine.Discard(h), ErrHookNotFound)

	_, err = f.engine.Setup(targetAddr, replacementAddr)
	require.NoError(t, err, "target can be hooked again")
}

func TestPassthroughSkipsWhenRestoreFails(t *testing.T) {
	f := newFixture(t, AMD64, targetAddr, ripPrologue)
	h, err := f.engine.Setup(targetAddr, replacementAddr)
	require.NoError(t, err)

	boom := errors.New("protected")
	f.mem.FailWrite = func(uintptr, []byte) error { return boom }
	_, err = h.Passthrough(f.machine, 1)
	require.ErrorIs(t, err, ErrCallSkipped)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, f.original.Load())
	assert.Zero(t, f.replaced.Load())
}

func TestPassthroughWithTrampolineLeavesPatch(t *testing.T) {
	f := newFixture(t, AMD64, targetAddr, presentPrologue)
	h, err := f.engine.Setup(targetAddr, replacementAddr)
	require.NoError(t, err)
	writes := f.mem.Writes()

	f.mem.FailWrite = func(uintptr, []byte) error { return errors.New("protected") }
	ret, err := h.Passthrough(f.machine, 1)
	require.NoError(t, err)
	assert.Equal(t, uintptr(2), ret)
	assert.Equal(t, writes, f.mem.Writes(), "target never toggled")
	assert.True(t, h.Armed())
}

func TestPassthroughReentrantOriginal(t *testing.T) {
	mem := testutil.NewMemory()
	machine := testutil.NewMachine(mem)
	engine := NewEngine(mem, AMD64)

	var h *Hook
	var calls atomic.Int32
	// a wrapping swap chain forwards once to the same entry point
	machine.Define(targetAddr, presentPrologue, func(args ...uintptr) uintptr {
		if calls.Add(1) == 1 {
			return machine.Invoke(targetAddr, args[0]) + 1
		}
		return args[0]
	})
	machine.Native(replacementAddr, func(args ...uintptr) uintptr {
		ret, err := h.Passthrough(machine, args...)
		assert.NoError(t, err)
		return ret
	})
	h, err := engine.Setup(targetAddr, replacementAddr)
	require.NoError(t, err)
	mem.FailWrite = func(uintptr, []byte) error { return errors.New("protected") }

	done := make(chan uintptr, 1)
	go func() { done <- machine.Invoke(targetAddr, 5) }()
	select {
	case ret := <-done:
		assert.Equal(t, uintptr(6), ret)
		assert.Equal(t, int32(2), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("host call never returned")
	}
}

func TestPassthroughConcurrent(t *testing.T) {
	f := newFixture(t, AMD64, targetAddr, ripPrologue)
	h, err := f.engine.Setup(targetAddr, replacementAddr)
	require.NoError(t, err)

	const callers, calls = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				ret, err := h.Passthrough(f.machine, uintptr(j))
				assert.NoError(t, err)
				assert.Equal(t, uintptr(j+1), ret)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(callers*calls), f.original.Load())
	assert.Zero(t, f.replaced.Load(), "no caller saw another's restore window closed")
	assert.True(t, h.Armed())
}
