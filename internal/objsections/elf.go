// Copyright (C) 2022 K2 Cyber Security Inc.

package objsections

import (
	"debug/elf"
	"io"
)

type elfFile struct {
	elf *elf.File
}

func openElf(r io.ReaderAt) (rawFile, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &elfFile{f}, nil
}

func (e *elfFile) Executable() ([]Range, error) {
	base := e.loadBase()
	var out []Range
	for _, s := range e.elf.Sections {
		if s.Flags&elf.SHF_EXECINSTR == 0 || s.Size == 0 {
			continue
		}
		out = append(out, Range{
			Name:  s.Name,
			Start: s.Addr - base,
			End:   s.Addr - base + s.Size,
		})
	}
	return out, nil
}

// lowest PT_LOAD address; zero for shared objects and PIE
func (e *elfFile) loadBase() uint64 {
	base := ^uint64(0)
	for _, p := range e.elf.Progs {
		if p.Type == elf.PT_LOAD && p.Vaddr < base {
			base = p.Vaddr
		}
	}
	if base == ^uint64(0) {
		return 0
	}
	return base - base%0x1000
}

func (e *elfFile) Close() error { return e.elf.Close() }
