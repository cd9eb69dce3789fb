// Copyright (C) 2022 K2 Cyber Security Inc.

package logger

import (
	"io"
	"strings"

	"golang.org/x/sys/windows"
)

type odsWriter struct{}

func (odsWriter) Write(p []byte) (int, error) {
	s, err := windows.UTF16PtrFromString(strings.TrimRight(string(p), "\n"))
	if err != nil {
		return 0, err
	}
	windows.OutputDebugString(s)
	return len(p), nil
}

func debuggerWriter() io.Writer { return odsWriter{} }
