// Copyright (C) 2022 K2 Cyber Security Inc.

// Package offsets holds the record Discovery writes and every Installation
// reads: where Present and ResizeBuffers live inside one specific dxgi.dll.
//
// The record is shared between processes as a fixed little-endian layout:
//
//	magic    uint32  "DXGO"
//	version  uint32
//	size     uint32  total bytes, Size
//	reserved uint32
//	path     [PathLen]uint16  UTF-16LE, NUL terminated
//	present  uint64
//	resize   uint64
//
// A zero offset means undiscovered and is never an address.
package offsets

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

const (
	// Magic tags a written record.
	Magic uint32 = 0x4f475844
	// Version is bumped whenever the layout changes.
	Version uint32 = 1
	// PathLen is the path capacity in UTF-16 code units, terminator included.
	PathLen = 2048
	// Size is the encoded record size in bytes.
	Size = headerSize + PathLen*2 + 16

	headerSize = 16
	// present and resize start here; they are written last
	offsetsAt = headerSize + PathLen*2
)

var (
	ErrShortRecord = errors.New("offsets: short record")
	ErrBadMagic    = errors.New("offsets: bad magic")
	ErrVersionSkew = errors.New("offsets: version skew")
	ErrSizeSkew    = errors.New("offsets: size skew")
	ErrPathTooLong = errors.New("offsets: path too long")
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Record is the decoded form of the shared layout.
type Record struct {
	// Path is the on-disk path of the dxgi.dll the offsets belong to.
	Path string
	// Present is the offset of IDXGISwapChain::Present from the module base.
	Present uint64
	// Resize is the offset of IDXGISwapChain::ResizeBuffers from the module base.
	Resize uint64
}

// Valid reports whether the record names a module and both offsets.
func (r Record) Valid() bool {
	return r.Path != "" && r.Present != 0 && r.Resize != 0
}

// Matches reports whether path names the module the record was made for.
func (r Record) Matches(path string) bool {
	return SamePath(r.Path, path)
}

// SamePath compares Windows paths, which are case-insensitive one character
// at a time: "ß" and "ss" are different names.
func SamePath(a, b string) bool {
	return strings.EqualFold(a, b)
}

type layout struct {
	Magic    uint32
	Version  uint32
	Size     uint32
	Reserved uint32
	Path     [PathLen]uint16
	Present  uint64
	Resize   uint64
}

// MarshalBinary encodes r in the shared layout.
func (r Record) MarshalBinary() ([]byte, error) {
	l := layout{
		Magic:   Magic,
		Version: Version,
		Size:    Size,
		Present: r.Present,
		Resize:  r.Resize,
	}
	wide, err := utf16le.NewEncoder().String(r.Path)
	if err != nil {
		return nil, fmt.Errorf("offsets: encode path: %w", err)
	}
	if len(wide)/2 >= PathLen {
		return nil, ErrPathTooLong
	}
	for i := 0; i+1 < len(wide); i += 2 {
		l.Path[i/2] = binary.LittleEndian.Uint16([]byte(wide[i : i+2]))
	}

	buf := bytes.NewBuffer(make([]byte, 0, Size))
	if err := binary.Write(buf, binary.LittleEndian, &l); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes the shared layout. An all-zero header is the record
// nobody has written yet and decodes to the empty Record.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) < Size {
		return ErrShortRecord
	}
	var l layout
	if err := binary.Read(bytes.NewReader(b[:Size]), binary.LittleEndian, &l); err != nil {
		return err
	}
	if l.Magic == 0 && l.Version == 0 && l.Size == 0 {
		*r = Record{}
		return nil
	}
	switch {
	case l.Magic != Magic:
		return ErrBadMagic
	case l.Version != Version:
		return fmt.Errorf("%w: have %d, want %d", ErrVersionSkew, l.Version, Version)
	case l.Size != Size:
		return fmt.Errorf("%w: have %d, want %d", ErrSizeSkew, l.Size, Size)
	}

	n := 0
	for n < PathLen && l.Path[n] != 0 {
		n++
	}
	wide := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(wide[i*2:], l.Path[i])
	}
	path, err := utf16le.NewDecoder().Bytes(wide)
	if err != nil {
		return fmt.Errorf("offsets: decode path: %w", err)
	}
	*r = Record{Path: string(path), Present: l.Present, Resize: l.Resize}
	return nil
}

// Decode is UnmarshalBinary returning the record.
func Decode(b []byte) (Record, error) {
	var r Record
	err := r.UnmarshalBinary(b)
	return r, err
}
