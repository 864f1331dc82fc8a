package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryKV is an in-memory KV used when no database path is configured and by
// tests. Semantics match SQLiteKV, including change notifications.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
	hub    *watchHub
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		values: make(map[string]json.RawMessage),
		hub:    newWatchHub(),
	}
}

// Get implements KV.
func (m *MemoryKV) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), value...), true, nil
}

// Set implements KV.
func (m *MemoryKV) Set(_ context.Context, key string, value json.RawMessage) error {
	copied := append(json.RawMessage(nil), value...)
	m.mu.Lock()
	m.values[key] = copied
	m.mu.Unlock()
	m.hub.publish(Change{Key: key, Value: append(json.RawMessage(nil), copied...)})
	return nil
}

// Remove implements KV.
func (m *MemoryKV) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	m.hub.publish(Change{Key: key})
	return nil
}

// Watch implements KV.
func (m *MemoryKV) Watch() (<-chan Change, func()) {
	return m.hub.subscribe()
}
