// Copyright (C) 2022 K2 Cyber Security Inc.

package objsections

import (
	"debug/macho"
	"io"
)

const (
	sAttrPureInstructions = 0x80000000
	sAttrSomeInstructions = 0x00000400
)

type machoFile struct {
	macho *macho.File
}

func openMacho(r io.ReaderAt) (rawFile, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &machoFile{f}, nil
}

func (f *machoFile) Executable() ([]Range, error) {
	var base uint64
	if seg := f.macho.Segment("__TEXT"); seg != nil {
		base = seg.Addr
	}
	var out []Range
	for _, s := range f.macho.Sections {
		if s.Flags&(sAttrPureInstructions|sAttrSomeInstructions) == 0 {
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

func (f *machoFile) Close() error { return f.macho.Close() }
