// Package memory provides an in-memory credstore implementation for
// development and testing.
package memory

import (
	"context"
	"sync"

	"github.com/sightrank/sightrank-go/internal/credstore"
)

// Store keeps the token and lock in process memory. It is safe for concurrent
// use within one process; cross-process tests share a single instance to
// simulate the shared medium.
type Store struct {
	mu       sync.RWMutex
	token    credstore.Token
	hasToken bool
	lock     credstore.Lock
	hasLock  bool
}

// New constructs an empty Store.
func New() *Store {
	return &Store{}
}

// GetToken returns the stored token or credstore.ErrNotFound.
func (s *Store) GetToken(_ context.Context) (credstore.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasToken {
		return credstore.Token{}, credstore.ErrNotFound
	}
	return s.token, nil
}

// PutToken overwrites the stored token.
func (s *Store) PutToken(_ context.Context, tok credstore.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tok
	s.hasToken = true
	return nil
}

// GetLock returns the stored lock record or credstore.ErrNotFound.
func (s *Store) GetLock(_ context.Context) (credstore.Lock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasLock {
		return credstore.Lock{}, credstore.ErrNotFound
	}
	return s.lock, nil
}

// PutLock overwrites the lock record.
func (s *Store) PutLock(_ context.Context, lock credstore.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lock = lock
	s.hasLock = true
	return nil
}

// ClearLock removes the lock record if ownerID still owns it.
func (s *Store) ClearLock(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasLock && s.lock.OwnerID == ownerID {
		s.lock = credstore.Lock{}
		s.hasLock = false
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
