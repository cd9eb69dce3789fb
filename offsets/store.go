// Copyright (C) 2022 K2 Cyber Security Inc.

package offsets

import (
	"sync"
)

// Store is where the shared record lives. Discovery saves once; Installation
// loads on every attempt, possibly from another process.
type Store interface {
	Load() (Record, error)
	Save(Record) error
}

// MemoryStore keeps the encoded record in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	buf []byte
}

// NewMemoryStore returns a store holding the unwritten record.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buf: make([]byte, Size)}
}

// Load decodes the current record.
func (s *MemoryStore) Load() (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Decode(s.buf)
}

// Save encodes r over the current record.
func (s *MemoryStore) Save(r Record) error {
	b, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	write(s.buf, b)
	return nil
}

// Bytes returns a copy of the encoded record.
func (s *MemoryStore) Bytes() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.buf...)
}

// write copies the offsets last, so a reader in another process that sees
// them non-zero also sees the path they belong to.
func write(dst, b []byte) {
	copy(dst[offsetsAt:Size], make([]byte, Size-offsetsAt))
	copy(dst[:offsetsAt], b[:offsetsAt])
	copy(dst[offsetsAt:Size], b[offsetsAt:])
}
