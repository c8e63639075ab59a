package registry

import (
	"context"
	"sync"

	"recipes/internal/domain"
)

// Memory keeps connections in a process-local map.
type Memory struct {
	mu    sync.RWMutex
	conns map[string]domain.Metadata
}

func NewMemory() *Memory {
	return &Memory{conns: make(map[string]domain.Metadata)}
}

func (m *Memory) Register(_ context.Context, id string, meta domain.Metadata) error {
	if id == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	m.conns[id] = meta
	m.mu.Unlock()
	return nil
}

func (m *Memory) Unregister(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Lookup(_ context.Context, id string) (domain.Metadata, bool, error) {
	m.mu.RLock()
	meta, ok := m.conns[id]
	m.mu.RUnlock()
	return meta, ok, nil
}

// Len reports the number of live connections.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

var _ Registry = (*Memory)(nil)
