package credstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{secrets: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, destID string, secret []byte) error {
	if err := validateID(destID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[destID] = append([]byte(nil), secret...)
	return nil
}

func (m *Memory) Get(ctx context.Context, destID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.secrets[destID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), s...), nil
}

func (m *Memory) Delete(ctx context.Context, destID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[destID]; !ok {
		return ErrNotFound
	}
	delete(m.secrets, destID)
	return nil
}

func (m *Memory) Close() error { return nil }

// Len returns the number of stored secrets.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.secrets)
}
