// Copyright (C) 2022 K2 Cyber Security Inc.

package dxgihook

// Arch encodes the jumps a hook writes for one instruction set and calling
// convention.
type Arch interface {
	// Mode is the x86asm decoding mode, 32 or 64.
	Mode() int
	// JumpSize is the length of the entry patch.
	JumpSize() int
	// Jump encodes an entry jump placed at from that lands on to.
	Jump(from, to uintptr) []byte
	// JumpBack encodes the trampoline tail placed at from that resumes the
	// original at to. prologue is the code copied in front of it.
	JumpBack(from, to uintptr, prologue []byte) []byte
}

// longest sequence any JumpBack produces
const maxJumpBack = 14

var (
	// AMD64 patches with absolute register jumps, reachable from anywhere in
	// the address space.
	AMD64 Arch = amd64Arch{}
	// X86 patches with JMP rel32.
	X86 Arch = x86Arch{}
)

type amd64Arch struct{}

func (amd64Arch) Mode() int     { return 64 }
func (amd64Arch) JumpSize() int { return 13 }

// R11 is volatile and unused on entry in the Windows x64 convention.
func (amd64Arch) Jump(from, to uintptr) []byte {
	return r11Jump(to)
}

func (amd64Arch) JumpBack(from, to uintptr, prologue []byte) []byte {
	raxFree, r11Free := scratchRegisters(prologue, 64)
	switch {
	case r11Free:
		return r11Jump(to)
	case raxFree:
		return raxJump(to)
	}
	return ripJump(to)
}

func r11Jump(addr uintptr) []byte {
	a := uint64(addr)
	return []byte{
		0x49, 0xbb, // MOV R11, addr64
		byte(a), byte(a >> 8), // .
		byte(a >> 16), byte(a >> 24), // .
		byte(a >> 32), byte(a >> 40), // .
		byte(a >> 48), byte(a >> 56), // .
		0x41, 0xff, 0xe3, // JMP R11
	}
}

func raxJump(addr uintptr) []byte {
	a := uint64(addr)
	return []byte{
		0x48, 0xb8, // MOV RAX, addr64
		byte(a), byte(a >> 8), // .
		byte(a >> 16), byte(a >> 24), // .
		byte(a >> 32), byte(a >> 40), // .
		byte(a >> 48), byte(a >> 56), // .
		0xff, 0xe0, // JMP RAX
	}
}

// ripJump clobbers no register at all.
func ripJump(addr uintptr) []byte {
	a := uint64(addr)
	return []byte{
		0xff, 0x25, 0x00, 0x00, 0x00, 0x00, // JMP [RIP+0]
		byte(a), byte(a >> 8), // .
		byte(a >> 16), byte(a >> 24), // .
		byte(a >> 32), byte(a >> 40), // .
		byte(a >> 48), byte(a >> 56), // .
	}
}

type x86Arch struct{}

func (x86Arch) Mode() int     { return 32 }
func (x86Arch) JumpSize() int { return 5 }

func (x86Arch) Jump(from, to uintptr) []byte {
	return rel32Jump(from, to)
}

func (x86Arch) JumpBack(from, to uintptr, prologue []byte) []byte {
	return rel32Jump(from, to)
}

func rel32Jump(from, to uintptr) []byte {
	addr := uint32(to) - uint32(from) - 5
	return []byte{
		0xe9,                        // JMP rel32
		byte(addr), byte(addr >> 8), // .
		byte(addr >> 16), byte(addr >> 24), // .
	}
}
