package artifact

import (
	"context"
	"sync"

	"github.com/CoderFake/document-processing-system/internal/job"
)

// MemoryStore keeps blobs in process memory. Used by tests and single-node
// development runs, mirroring the s3/memory backend toggle of the worker.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, data []byte) (job.ArtifactRef, error) {
	id := HashID(data)
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	m.blobs[id] = cp
	m.mu.Unlock()

	return job.ArtifactRef{StorageID: id, ContentHash: id, Size: int64(len(data))}, nil
}

func (m *MemoryStore) Get(_ context.Context, storageID string) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.blobs[storageID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}
