// Package credstore defines the shared credential store visible to every
// client process of one session: the current access token, its expiry, and an
// advisory refresh lock record. The store is handed to the token coordinator
// as an explicit dependency so tests can swap in an in-memory fake.
package credstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested record has never been written.
var ErrNotFound = errors.New("credstore: not found")

// Token is the session's current access token. Any process may read it; only
// the refresh lock holder writes a freshly fetched value.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token is usable at least margin into the future.
func (t Token) Valid(now time.Time, margin time.Duration) bool {
	return t.Value != "" && t.ExpiresAt.After(now.Add(margin))
}

// Lock is the advisory refresh lock. It is not transactional: correctness
// rests on its short TTL and on refreshes being idempotent, not on atomic
// compare-and-swap, which the underlying media are not assumed to offer.
type Lock struct {
	OwnerID   string
	ExpiresAt time.Time
}

// Held reports whether the lock is currently claimed.
func (l Lock) Held(now time.Time) bool {
	return l.OwnerID != "" && l.ExpiresAt.After(now)
}

// Store persists the token and the refresh lock. All writes are last-writer-
// wins at the record level. Implementations must be safe for concurrent use
// from multiple processes.
type Store interface {
	// GetToken returns the stored token or ErrNotFound.
	GetToken(ctx context.Context) (Token, error)
	// PutToken overwrites the stored token.
	PutToken(ctx context.Context, tok Token) error
	// GetLock returns the stored lock record or ErrNotFound.
	GetLock(ctx context.Context) (Lock, error)
	// PutLock overwrites the lock record.
	PutLock(ctx context.Context, lock Lock) error
	// ClearLock removes the lock record if ownerID still owns it.
	ClearLock(ctx context.Context, ownerID string) error
	// Close releases underlying resources.
	Close() error
}
