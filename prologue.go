// Copyright (C) 2022 K2 Cyber Security Inc.

/*
Patching a native entry point

ORIGINAL FUNCTION (target)
REPLACEMENT FUNCTION (hook)
TRAMPOLINE

***Original function***
 - The first whole instructions covering one jump are overwritten with a jump
   to the REPLACEMENT FUNCTION, padded with NOPs up to the instruction boundary.

***Trampoline***
 - Holds the overwritten instructions, followed by a jump to the first
   instruction of the ORIGINAL FUNCTION that was not overwritten.
 - Only built when none of the moved instructions refer to their own address
   (RIP-relative operands, relative branches).

***Replacement function***
 - Calls the original through the trampoline, or, with no trampoline, by
   restoring the original bytes around the call.
*/

package dxgihook

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

type info struct {
	length      int
	relocatable bool
}

// ensureLength decodes whole instructions from src until at least size bytes
// are covered.
func ensureLength(src []byte, size int, mode int) (info, error) {
	var inf info
	inf.relocatable = true
	for inf.length < size {
		if inf.length >= len(src) {
			return inf, ErrShortFunction
		}
		i, inst, err := analysis(src[inf.length:], mode)
		if err != nil {
			return inf, err
		}
		inf.relocatable = inf.relocatable && i.relocatable
		inf.length += i.length
		if inf.length < size && terminal(inst.Op) {
			return inf, fmt.Errorf("%w: %v at +%d", ErrShortFunction, inst.Op, inf.length-i.length)
		}
	}
	return inf, nil
}

func analysis(src []byte, mode int) (inf info, inst x86asm.Inst, err error) {
	inst, err = x86asm.Decode(src, mode)
	if err != nil {
		return
	}
	inf.length = inst.Len
	inf.relocatable = true
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		if mem, ok := a.(x86asm.Mem); ok {
			if mem.Base == x86asm.RIP || mem.Base == x86asm.EIP {
				inf.relocatable = false
				return
			}
		} else if _, ok := a.(x86asm.Rel); ok {
			inf.relocatable = false
			return
		}
	}
	return
}

// control never falls through these, so nothing after them belongs to the
// function being patched
func terminal(op x86asm.Op) bool {
	switch op {
	case x86asm.RET, x86asm.LRET, x86asm.JMP, x86asm.LJMP, x86asm.INT, x86asm.UD2:
		return true
	}
	return false
}

// scratchRegisters reports whether RAX and R11 are left alone by code, so a
// jump placed after it may clobber them. Any mention counts, read or write.
func scratchRegisters(code []byte, mode int) (raxFree, r11Free bool) {
	raxFree, r11Free = true, true
	for x := 0; x < len(code); {
		inst, err := x86asm.Decode(code[x:], mode)
		if err != nil {
			return false, false
		}
		for _, a := range inst.Args {
			if a == nil {
				break
			}
			for _, r := range registersOf(a) {
				switch family(r) {
				case x86asm.RAX:
					raxFree = false
				case x86asm.R11:
					r11Free = false
				}
			}
		}
		x += inst.Len
	}
	return raxFree, r11Free
}

func registersOf(a x86asm.Arg) []x86asm.Reg {
	switch v := a.(type) {
	case x86asm.Reg:
		return []x86asm.Reg{v}
	case x86asm.Mem:
		return []x86asm.Reg{v.Base, v.Index}
	}
	return nil
}

func family(r x86asm.Reg) x86asm.Reg {
	switch r {
	case x86asm.AL, x86asm.AH, x86asm.AX, x86asm.EAX, x86asm.RAX:
		return x86asm.RAX
	case x86asm.R11B, x86asm.R11W, x86asm.R11L, x86asm.R11:
		return x86asm.R11
	}
	return r
}
