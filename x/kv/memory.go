package kv

import (
	"bytes"
	"context"
	"sync"
)

var _ Store = (*Memory)(nil)

// Memory implements an in-memory store; suitable for tests and single-instance deployments.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *Memory) Update(_ context.Context, key []byte, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := string(key)
	next, err := fn(bytes.Clone(m.data[k]))
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.data, k)
		return nil
	}
	m.data[k] = bytes.Clone(next)
	return nil
}

func (m *Memory) Iterate(_ context.Context, prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	snapshot := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			snapshot[k] = bytes.Clone(v)
		}
	}
	m.mu.RUnlock()

	for k, v := range snapshot {
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
