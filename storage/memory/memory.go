// Package memory provides a thread-safe in-memory implementation of storage.BlobStore.
package memory

import (
	"context"
	"sync"

	"github.com/jmcleod/chatrelay/storage"
)

// Store is a thread-safe in-memory implementation of storage.BlobStore.
// Suitable for testing, demos, and single-process use cases.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
	puts int
}

var _ storage.BlobStore = (*Store)(nil)

// NewStore creates a new empty in-memory Store.
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	s.puts++
	return nil
}

// Puts reports how many Put calls have succeeded. Tests use it to assert
// that read-only paths never rewrite the snapshot.
func (s *Store) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
