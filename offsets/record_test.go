// Copyright (C) 2022 K2 Cyber Security Inc.

package offsets

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dxgiPath = `C:\Windows\System32\dxgi.dll`

func TestRecordLayout(t *testing.T) {
	r := Record{Path: dxgiPath, Present: 0x1620, Resize: 0x2f40}
	b, err := r.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, Size)
	assert.Equal(t, 4128, Size)

	assert.Equal(t, Magic, binary.LittleEndian.Uint32(b[0:]))
	assert.Equal(t, "DXGO", string(b[0:4]))
	assert.Equal(t, Version, binary.LittleEndian.Uint32(b[4:]))
	assert.Equal(t, uint32(Size), binary.LittleEndian.Uint32(b[8:]))
	assert.Equal(t, uint16('C'), binary.LittleEndian.Uint16(b[headerSize:]))
	assert.Equal(t, uint16(':'), binary.LittleEndian.Uint16(b[headerSize+2:]))
	assert.Zero(t, binary.LittleEndian.Uint16(b[headerSize+2*len(dxgiPath):]), "terminator")
	assert.Equal(t, uint64(0x1620), binary.LittleEndian.Uint64(b[offsetsAt:]))
	assert.Equal(t, uint64(0x2f40), binary.LittleEndian.Uint64(b[offsetsAt+8:]))

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestDecodeUnwritten(t *testing.T) {
	got, err := Decode(make([]byte, Size))
	require.NoError(t, err)
	assert.Equal(t, Record{}, got)
	assert.False(t, got.Valid())
}

func TestDecodeRejectsSkew(t *testing.T) {
	good, err := Record{Path: dxgiPath, Present: 1, Resize: 2}.MarshalBinary()
	require.NoError(t, err)

	tests := []struct {
		name  string
		patch func(b []byte) []byte
		err   error
	}{
		{name: "short", patch: func(b []byte) []byte { return b[:Size-1] }, err: ErrShortRecord},
		{name: "magic", patch: func(b []byte) []byte { b[0] ^= 0xff; return b }, err: ErrBadMagic},
		{name: "version", patch: func(b []byte) []byte { binary.LittleEndian.PutUint32(b[4:], Version+1); return b }, err: ErrVersionSkew},
		{name: "size", patch: func(b []byte) []byte { binary.LittleEndian.PutUint32(b[8:], Size-16); return b }, err: ErrSizeSkew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := append([]byte(nil), good...)
			_, err := Decode(tt.patch(b))
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestPathLimits(t *testing.T) {
	_, err := Record{Path: strings.Repeat("a", PathLen)}.MarshalBinary()
	require.ErrorIs(t, err, ErrPathTooLong)

	longest := strings.Repeat("a", PathLen-1)
	b, err := Record{Path: longest, Present: 1, Resize: 1}.MarshalBinary()
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, longest, got.Path)
}

func TestNonASCIIPath(t *testing.T) {
	r := Record{Path: `D:\Spiele\Überprüfung\dxgi.dll`, Present: 0x10, Resize: 0x20}
	b, err := r.MarshalBinary()
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestValid(t *testing.T) {
	assert.True(t, Record{Path: dxgiPath, Present: 1, Resize: 2}.Valid())
	assert.False(t, Record{Path: dxgiPath, Resize: 2}.Valid())
	assert.False(t, Record{Path: dxgiPath, Present: 1}.Valid())
	assert.False(t, Record{Present: 1, Resize: 2}.Valid())
}

func TestMatches(t *testing.T) {
	r := Record{Path: dxgiPath}
	assert.True(t, r.Matches(dxgiPath))
	assert.True(t, r.Matches(`c:\windows\system32\DXGI.DLL`))
	assert.False(t, r.Matches(`C:\Windows\SysWOW64\dxgi.dll`))
	assert.False(t, r.Matches(""))

	german := Record{Path: `C:\Spiele\Straße\dxgi.dll`}
	assert.True(t, german.Matches(`c:\SPIELE\STRAßE\DXGI.DLL`))
	assert.False(t, german.Matches(`C:\Spiele\Strasse\dxgi.dll`))
}
