// Package snapshot stores the last successful result payload of each running
// job so subscription-state queries can serve last-known rows without
// touching the database.
package snapshot

import (
	"context"
	"sync"
)

// Cache stores one serialized result payload per job.
type Cache interface {
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

// Compile-time interface compliance check.
var _ Cache = (*memoryCache)(nil)

type memoryCache struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryCache creates an in-process snapshot cache. Used when Redis is
// not configured.
func NewMemoryCache() Cache {
	return &memoryCache{
		data: make(map[string][]byte),
	}
}

func (m *memoryCache) Put(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(payload))
	copy(stored, payload)

	m.data[key] = stored

	return nil
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payload, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}

	out := make([]byte, len(payload))
	copy(out, payload)

	return out, true, nil
}

func (m *memoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)

	return nil
}
