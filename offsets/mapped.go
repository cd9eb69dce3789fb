// Copyright (C) 2022 K2 Cyber Security Inc.

package offsets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	mmap "github.com/edsrzf/mmap-go"
)

// ErrReadOnly is returned by Save on a store opened with OpenMappedReadOnly.
var ErrReadOnly = errors.New("offsets: read-only store")

// DefaultPath is the backing file both sides agree on when none is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "dxgihook.offsets")
}

// MappedStore shares the record through a memory-mapped file, so the
// controlling application and injected processes see the same bytes.
type MappedStore struct {
	f        *os.File
	mem      mmap.MMap
	readOnly bool
}

// OpenMapped maps path read-write, creating and sizing it if needed.
func OpenMapped(path string) (*MappedStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() < Size {
		if err := f.Truncate(Size); err != nil {
			f.Close()
			return nil, fmt.Errorf("offsets: size %s: %w", path, err)
		}
	}
	mem, err := mmap.MapRegion(f, Size, mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("offsets: map %s: %w", path, err)
	}
	return &MappedStore{f: f, mem: mem}, nil
}

// OpenMappedReadOnly maps an existing record for reading.
func OpenMappedReadOnly(path string) (*MappedStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() < Size {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrShortRecord, path, st.Size())
	}
	mem, err := mmap.MapRegion(f, Size, mmap.RDONLY, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("offsets: map %s: %w", path, err)
	}
	return &MappedStore{f: f, mem: mem, readOnly: true}, nil
}

// Load decodes the mapped record.
func (s *MappedStore) Load() (Record, error) {
	return Decode(s.mem)
}

// Save writes r into the mapping and flushes it.
func (s *MappedStore) Save(r Record) error {
	if s.readOnly {
		return ErrReadOnly
	}
	b, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	write(s.mem, b)
	return s.mem.Flush()
}

// Close unmaps and closes the backing file.
func (s *MappedStore) Close() error {
	err := s.mem.Unmap()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}
