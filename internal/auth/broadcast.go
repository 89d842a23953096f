// Package auth supplies valid access tokens to any number of concurrent
// callers across any number of client processes sharing one session, while
// performing at most one network refresh per expiry cycle under normal
// conditions.
package auth

import (
	"context"
	"sync"
	"time"
)

// MessageTokenRefreshed announces that the lock holder wrote a fresh token.
const MessageTokenRefreshed = "token_refreshed"

// Message is the ephemeral cross-process notification. It is best-effort and
// never persisted: a process that was not listening at publish time falls
// back to reading the credential store directly.
type Message struct {
	Type   string    `json:"type"`
	Token  string    `json:"token"`
	Expiry time.Time `json:"expiry"`
	// Nonce de-duplicates redeliveries of the same event file.
	Nonce string `json:"nonce"`
}

// Broadcaster is the same-origin publish/subscribe primitive letting
// processes announce token refreshes without polling the store.
type Broadcaster interface {
	// Publish announces msg to current subscribers. Delivery is best-effort.
	Publish(ctx context.Context, msg Message) error
	// Subscribe returns a message channel and a cancel function. The channel
	// is closed after cancel.
	Subscribe() (<-chan Message, func())
}

// MemoryBroadcaster fans messages out to in-process subscribers. It backs
// single-process deployments and tests; slow subscribers drop messages
// rather than block the publisher.
type MemoryBroadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Message
	next int
}

// NewMemoryBroadcaster constructs an empty broadcaster.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[int]chan Message)}
}

// Publish delivers msg to every subscriber without blocking.
func (b *MemoryBroadcaster) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a buffered listener channel.
func (b *MemoryBroadcaster) Subscribe() (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Message, 8)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}
