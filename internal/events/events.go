// Package events carries document change notifications to subscribed views.
// Subscribers re-run their sidebar/trash/search queries when an event for
// their owner arrives.
package events

import (
	"context"
	"sync"
	"time"
)

// Event types.
const (
	Created  = "document.created"
	Updated  = "document.updated"
	Archived = "document.archived"
	Restored = "document.restored"
	Removed  = "document.removed"
	Cascaded = "cascade.finished"
)

// Event describes a change to one document (or the end of a cascade job).
type Event struct {
	Type       string    `json:"type"`
	OwnerID    string    `json:"ownerId"`
	DocumentID string    `json:"documentId"`
	ParentID   *string   `json:"parentId,omitempty"`
	JobID      string    `json:"jobId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Broker publishes events and lets callers subscribe to one owner's stream.
// The returned channel is closed when ctx is done.
type Broker interface {
	Publisher
	Subscribe(ctx context.Context, ownerID string) (<-chan Event, error)
}

// subscriberBuffer bounds each subscriber queue; slow readers miss events
// rather than blocking publishers.
const subscriberBuffer = 64

// MemoryBroker fans events out to in-process subscribers.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[chan Event]struct{})}
}

func (b *MemoryBroker) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[e.OwnerID] {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, ownerID string) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs[ownerID] == nil {
		b.subs[ownerID] = make(map[chan Event]struct{})
	}
	b.subs[ownerID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[ownerID], ch)
		if len(b.subs[ownerID]) == 0 {
			delete(b.subs, ownerID)
		}
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}
