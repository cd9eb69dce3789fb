// Copyright (C) 2022 K2 Cyber Security Inc.

package objsections

import (
	"debug/pe"
	"io"
)

type peFile struct {
	pe *pe.File
}

func openPE(r io.ReaderAt) (rawFile, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &peFile{f}, nil
}

// PE section addresses are already RVAs.
func (f *peFile) Executable() ([]Range, error) {
	var out []Range
	for _, s := range f.pe.Sections {
		if s.Characteristics&(pe.IMAGE_SCN_CNT_CODE|pe.IMAGE_SCN_MEM_EXECUTE) == 0 {
			continue
		}
		out = append(out, Range{
			Name:  s.Name,
			Start: uint64(s.VirtualAddress),
			End:   uint64(s.VirtualAddress) + uint64(s.VirtualSize),
		})
	}
	return out, nil
}

func (f *peFile) Close() error { return f.pe.Close() }
