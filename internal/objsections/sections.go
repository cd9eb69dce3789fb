// Copyright (C) 2022 K2 Cyber Security Inc.

// Package objsections lists the executable sections of PE, ELF and Mach-O
// images, as offsets from the image base.
package objsections

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Range is a half-open span [Start, End) of executable bytes relative to the
// image base.
type Range struct {
	Name  string
	Start uint64
	End   uint64
}

// Contains reports whether off falls inside r.
func (r Range) Contains(off uint64) bool {
	return off >= r.Start && off < r.End
}

// ErrUnrecognized means none of the object readers accepted the file.
var ErrUnrecognized = errors.New("unrecognized object file")

type rawFile interface {
	Executable() ([]Range, error)
	Close() error
}

var objType = []func(io.ReaderAt) (rawFile, error){
	openElf,
	openMacho,
	// pe.NewFile accepts files without an MZ header, keep it last
	openPE,
}

// ReadExecutable opens the image at name and returns its executable ranges.
func ReadExecutable(name string) ([]Range, error) {
	r, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	for _, try := range objType {
		raw, err := try(r)
		if err != nil {
			continue
		}
		defer raw.Close()
		return raw.Executable()
	}
	return nil, fmt.Errorf("open %s: %w", name, ErrUnrecognized)
}
