// Copyright (C) 2022 K2 Cyber Security Inc.

package objsections

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadExecutableSelf(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	ranges, err := ReadExecutable(exe)
	require.NoError(t, err)
	require.NotEmpty(t, ranges)

	text := false
	for _, r := range ranges {
		assert.Less(t, r.Start, r.End, r.Name)
		assert.True(t, r.Contains(r.Start))
		assert.False(t, r.Contains(r.End))
		// .text on ELF and PE, __text on Mach-O
		text = text || strings.HasSuffix(r.Name, "text")
	}
	assert.True(t, text, "%v", ranges)
}

func TestReadExecutableMissing(t *testing.T) {
	_, err := ReadExecutable(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestReadExecutableGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(path, make([]byte, 8), 0644))
	_, err := ReadExecutable(path)
	require.ErrorIs(t, err, ErrUnrecognized)
}

func TestRangeContains(t *testing.T) {
	r := Range{Name: ".text", Start: 0x1000, End: 0x2000}
	assert.False(t, r.Contains(0xfff))
	assert.True(t, r.Contains(0x1000))
	assert.True(t, r.Contains(0x1fff))
	assert.False(t, r.Contains(0x2000))
}
