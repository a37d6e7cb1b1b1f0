package blobstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store holding transient attachment bytes.
// It backs attachments whose bytes live only in transient storage (status
// pending) and is the fixture store in tests. Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores bytes under the attachment id. Exposed for the upload
// collaborator and for tests; the gateway itself never calls it.
func (s *MemoryStore) Put(attachmentID string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[attachmentID] = data
}

// Delete removes the bytes for the attachment id.
func (s *MemoryStore) Delete(attachmentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, attachmentID)
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, attachmentID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[attachmentID]
	if !ok {
		return nil, ErrUnavailable
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
