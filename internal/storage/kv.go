// Package storage provides the persisted key-value store backing the local
// note collections. Values are opaque JSON documents replaced wholesale on
// every write, and watchers receive a change notification per committed write.
package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// Change describes one committed write. Value is nil when the key was removed.
type Change struct {
	Key   string
	Value json.RawMessage
}

// KV is the persisted key-value store contract. Set replaces the full
// document stored under key; there are no partial updates.
type KV interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Remove(ctx context.Context, key string) error
	// Watch returns a stream of committed changes and a cancel function.
	// Delivery is best-effort: a watcher that falls behind misses changes.
	// In-process consumers use the typed event bus instead; the stream is
	// part of the store contract so an external process sharing the
	// database file can observe writes at this layer.
	Watch() (<-chan Change, func())
}

const watchBufferSize = 16

// watchHub fans committed changes out to registered watchers without
// blocking the writer.
type watchHub struct {
	mu       sync.Mutex
	nextID   int64
	watchers map[int64]chan Change
}

func newWatchHub() *watchHub {
	return &watchHub{watchers: make(map[int64]chan Change)}
}

func (h *watchHub) subscribe() (<-chan Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	stream := make(chan Change, watchBufferSize)
	h.watchers[id] = stream
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.watchers[id]; ok {
			delete(h.watchers, id)
			close(existing)
		}
	}
	return stream, cancel
}

func (h *watchHub) publish(change Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, stream := range h.watchers {
		select {
		case stream <- change:
		default:
		}
	}
}
