// Package bus carries fire-and-forget wake-up signals between the sync engine
// and any attached UI surfaces. The persisted store remains the source of
// truth; a missed message only delays a surface until its next read.
package bus

import (
	"context"
	"sync"
	"time"
)

// EventType enumerates the broadcast signals.
type EventType string

const (
	// EventNotesChanged fires after any local note mutation was persisted.
	EventNotesChanged EventType = "notes-changed"
	// EventAuthChanged fires when the signed-in user appears or disappears.
	EventAuthChanged EventType = "auth-changed"
	// EventSyncComplete fires after a sync run pushed or merged successfully.
	EventSyncComplete EventType = "sync-complete"
)

// Message is one broadcast signal.
type Message struct {
	Type      EventType `json:"type"`
	VideoID   string    `json:"videoId,omitempty"`
	NoteIDs   []string  `json:"noteIds,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher fans messages out to subscribers. Delivery is best-effort: a
// subscriber whose buffer is full misses the message rather than blocking
// the publisher.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Message
}

// NewDispatcher returns a ready Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener. The subscription ends when ctx is done or
// the returned cancel function runs.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan Message, func()) {
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Message, d.bufferSize),
	}
	d.register(sub)
	cleanup := func() {
		d.unregister(sub.id)
	}
	// A context that can never be cancelled (context.Background) has a nil
	// Done channel; spawning a watcher for it would leak a goroutine per
	// subscription. Such callers end the subscription via cleanup alone.
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cleanup()
		}()
	}
	return sub.stream, cleanup
}

// Publish delivers the message to every current subscriber without blocking.
func (d *Dispatcher) Publish(message Message) {
	if message.Type == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	copies := make([]*subscriber, 0, len(d.subscribers))
	for _, sub := range d.subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- message:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[sub.id] = sub
}

func (d *Dispatcher) unregister(id int64) {
	d.mu.Lock()
	delete(d.subscribers, id)
	d.mu.Unlock()
}
