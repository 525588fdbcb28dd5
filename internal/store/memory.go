// ABOUTME: In-memory Backend for tests and embedded use
// ABOUTME: Records live only as long as the process

package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps session records in a map.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string][]byte)}
}

// Put stores a copy of data.
func (m *MemoryBackend) Put(_ context.Context, sessionID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[sessionID] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the stored record.
func (m *MemoryBackend) Get(_ context.Context, sessionID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.records[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return append([]byte(nil), data...), nil
}

// Exists reports whether a record is stored.
func (m *MemoryBackend) Exists(_ context.Context, sessionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[sessionID]
	return ok, nil
}

// Delete removes a record.
func (m *MemoryBackend) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sessionID)
	return nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error {
	return nil
}
