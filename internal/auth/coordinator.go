package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sightrank/sightrank-go/internal/credstore"
	"github.com/sightrank/sightrank-go/internal/metrics"
)

// Config controls Coordinator behavior.
type Config struct {
	// OwnerID identifies this process in lock records (default: random UUID).
	OwnerID string
	// RefreshMargin is how close to expiry a token may get before it is
	// considered stale (default 30s).
	RefreshMargin time.Duration
	// LockTTL bounds how long a claimed refresh lock is honored. It also
	// bounds the worst-case wait of every other process, so it should stay
	// short (default 10s).
	LockTTL time.Duration
	// ClaimRecheckDelay is the pause between writing a lock claim and
	// re-reading it to detect a lost race (default 150ms). The store offers
	// no compare-and-swap; this read-delay-recheck is the accepted
	// best-effort substitute.
	ClaimRecheckDelay time.Duration
	// Logger is optional.
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.OwnerID == "" {
		c.OwnerID = uuid.NewString()
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = 30 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Second
	}
	if c.ClaimRecheckDelay <= 0 {
		c.ClaimRecheckDelay = 150 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Coordinator supplies a valid access token to any number of concurrent
// callers. Within a process, callers serialize on a mutex; across processes,
// an advisory lock in the shared store plus the broadcast channel keep
// network refreshes down to one per expiry cycle under normal conditions.
// Callers never see the lock or broadcast machinery.
type Coordinator struct {
	store     credstore.Store
	bcast     Broadcaster
	refresher Refresher
	cfg       Config

	// mu makes concurrent in-process callers single-flight: the winner runs
	// the refresh cycle, the rest find a fresh token on re-read.
	mu sync.Mutex
}

// NewCoordinator wires the coordinator's dependencies.
func NewCoordinator(store credstore.Store, bcast Broadcaster, refresher Refresher, cfg Config) *Coordinator {
	return &Coordinator{
		store:     store,
		bcast:     bcast,
		refresher: refresher,
		cfg:       cfg.withDefaults(),
	}
}

// OwnerID returns the lock owner identity used by this coordinator.
func (c *Coordinator) OwnerID() string {
	return c.cfg.OwnerID
}

// Token returns a valid access token, refreshing it if necessary. It
// implements the status.TokenSource contract.
func (c *Coordinator) Token(ctx context.Context) (string, error) {
	// Fast path: a fresh token needs no lock at all.
	if tok, ok := c.freshToken(ctx); ok {
		return tok, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller in this process may have finished the cycle while we
	// waited on the mutex.
	if tok, ok := c.freshToken(ctx); ok {
		return tok, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("acquire token: %w", err)
		}

		lock := c.currentLock(ctx)
		now := time.Now()

		if !lock.Held(now) {
			won, err := c.claimLock(ctx, now)
			if err != nil {
				return "", err
			}
			if won {
				return c.refreshAsHolder(ctx)
			}
			// Lost the claim race; fall through and wait on the winner.
			lock = c.currentLock(ctx)
			if !lock.Held(time.Now()) {
				continue
			}
		}

		tok, ok, err := c.waitForHolder(ctx, lock)
		if err != nil {
			return "", err
		}
		if ok {
			metrics.ObserveTokenRefresh(metrics.OutcomeBorrowed)
			return tok, nil
		}
		// The holder went silent past its lock expiry: treat it as
		// abandoned and re-attempt the claim. This bounds every waiter to
		// one LockTTL rather than waiting forever on a crashed process.
		c.cfg.Logger.Debug("refresh lock expired without broadcast, reclaiming",
			zap.String("holder", lock.OwnerID))
	}
}

// freshToken reads the store and returns the token if it is still valid past
// the refresh margin.
func (c *Coordinator) freshToken(ctx context.Context) (string, bool) {
	tok, err := c.store.GetToken(ctx)
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			c.cfg.Logger.Warn("credential store read failed", zap.Error(err))
		}
		return "", false
	}
	if !tok.Valid(time.Now(), c.cfg.RefreshMargin) {
		return "", false
	}
	return tok.Value, true
}

func (c *Coordinator) currentLock(ctx context.Context) credstore.Lock {
	lock, err := c.store.GetLock(ctx)
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			c.cfg.Logger.Warn("refresh lock read failed", zap.Error(err))
		}
		return credstore.Lock{}
	}
	return lock
}

// claimLock writes a claim, waits briefly, and re-reads to find out whether
// the claim stuck. Losing the race is fine: the caller falls through to
// waiting on whoever won.
func (c *Coordinator) claimLock(ctx context.Context, now time.Time) (bool, error) {
	claim := credstore.Lock{
		OwnerID:   c.cfg.OwnerID,
		ExpiresAt: now.Add(c.cfg.LockTTL),
	}
	if err := c.store.PutLock(ctx, claim); err != nil {
		return false, fmt.Errorf("claim refresh lock: %w", err)
	}

	recheck := time.NewTimer(c.cfg.ClaimRecheckDelay)
	defer recheck.Stop()
	select {
	case <-recheck.C:
	case <-ctx.Done():
		return false, fmt.Errorf("claim refresh lock: %w", ctx.Err())
	}

	lock := c.currentLock(ctx)
	return lock.OwnerID == c.cfg.OwnerID, nil
}

// waitForHolder subscribes to the broadcast channel and waits for the current
// holder's token_refreshed message, bounded by the lock's expiry. The bool
// result reports whether a token was obtained.
func (c *Coordinator) waitForHolder(ctx context.Context, lock credstore.Lock) (string, bool, error) {
	metrics.ObserveRefreshLockWait()
	msgs, cancel := c.bcast.Subscribe()
	defer cancel()

	// The holder may have published before we subscribed; the store is the
	// fallback for missed broadcasts.
	if tok, ok := c.freshToken(ctx); ok {
		return tok, true, nil
	}

	wait := time.Until(lock.ExpiresAt)
	if wait <= 0 {
		return "", false, nil
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return "", false, nil
			}
			if msg.Type != MessageTokenRefreshed || msg.Token == "" {
				continue
			}
			if !msg.Expiry.After(time.Now()) {
				continue
			}
			return msg.Token, true, nil
		case <-deadline.C:
			// One more store read: the holder may have written the token
			// without a (reliable) broadcast.
			if tok, ok := c.freshToken(ctx); ok {
				return tok, true, nil
			}
			return "", false, nil
		case <-ctx.Done():
			return "", false, fmt.Errorf("await token refresh: %w", ctx.Err())
		}
	}
}

// refreshAsHolder performs the network refresh while holding the lock, writes
// and announces the result, and always releases the lock. A failed refresh
// releases the lock immediately so other processes are not stuck for the full
// TTL, and publishes nothing.
func (c *Coordinator) refreshAsHolder(ctx context.Context) (string, error) {
	tok, err := c.refresher.Refresh(ctx)
	if err != nil {
		c.releaseLock()
		metrics.ObserveTokenRefresh(metrics.OutcomeError)
		return "", fmt.Errorf("refresh token: %w", err)
	}

	if err := c.store.PutToken(ctx, tok); err != nil {
		// The refresh itself succeeded; the caller still gets the token.
		// Waiters will recover via the broadcast or their lock-expiry
		// re-claim.
		c.cfg.Logger.Warn("credential store write failed", zap.Error(err))
	}

	msg := Message{
		Type:   MessageTokenRefreshed,
		Token:  tok.Value,
		Expiry: tok.ExpiresAt,
		Nonce:  uuid.NewString(),
	}
	if err := c.bcast.Publish(ctx, msg); err != nil {
		c.cfg.Logger.Warn("token refresh broadcast failed", zap.Error(err))
	}

	c.releaseLock()
	metrics.ObserveTokenRefresh(metrics.OutcomeOK)
	return tok.Value, nil
}

// releaseLock clears this coordinator's lock record on a detached context so
// a canceled caller still unblocks other processes.
func (c *Coordinator) releaseLock() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.store.ClearLock(ctx, c.cfg.OwnerID); err != nil {
		c.cfg.Logger.Warn("refresh lock release failed", zap.Error(err))
	}
}
