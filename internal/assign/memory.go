package assign

import (
	"context"
	"sync"
)

type memoryKey struct {
	experimentID int64
	visitorID    string
}

// MemoryStore keeps assignments in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	assignments map[memoryKey]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assignments: make(map[memoryKey]string)}
}

func (m *MemoryStore) Get(_ context.Context, experimentID int64, visitorID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.assignments[memoryKey{experimentID, visitorID}]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, experimentID int64, visitorID, variantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[memoryKey{experimentID, visitorID}] = variantID
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, experimentID int64, visitorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assignments, memoryKey{experimentID, visitorID})
	return nil
}
