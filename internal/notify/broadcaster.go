// Package notify fans notifications out to a user's live connections.
package notify

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/xaenox/chief-of-staff/internal/models"
)

// Notifier delivers a notification to one delivery channel.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Broadcaster is a per-user pub/sub. Slow subscribers drop notifications
// rather than block the publisher.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan models.Notification
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan models.Notification),
	}
}

func (b *Broadcaster) Subscribe(userID string, bufSize int) (string, <-chan models.Notification) {
	id := ulid.Make().String()
	ch := make(chan models.Notification, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscribers[userID]
	if !ok {
		subs = make(map[string]chan models.Notification)
		b.subscribers[userID] = subs
	}
	subs[id] = ch
	return id, ch
}

func (b *Broadcaster) Unsubscribe(userID, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[userID]
	if ch, ok := subs[id]; ok {
		close(ch)
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(b.subscribers, userID)
	}
}

func (b *Broadcaster) Notify(ctx context.Context, n models.Notification) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[n.UserID] {
		select {
		case ch <- n:
		default:
			// buffer full, drop for this subscriber
		}
	}
	return nil
}

func (b *Broadcaster) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[userID])
}
