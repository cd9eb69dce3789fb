// Copyright (C) 2022 K2 Cyber Security Inc.

package dxgihook

import (
	sections "github.com/k2io/dxgihook/internal/objsections"
)

// Range is a span of executable bytes relative to an image base.
type Range = sections.Range

// ExecutableRanges reads the image at path and returns its code sections.
func ExecutableRanges(path string) ([]Range, error) {
	return sections.ReadExecutable(path)
}

// InRanges reports whether off lies inside one of ranges.
func InRanges(ranges []Range, off uint64) bool {
	for _, r := range ranges {
		if r.Contains(off) {
			return true
		}
	}
	return false
}
