// Package postgres provides a Postgres-backed credstore for deployments
// where a fleet of agents shares one logical session through a central
// database instead of a local file.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sightrank/sightrank-go/internal/credstore"
)

const (
	rowToken = "access_token"
	rowLock  = "refresh_lock"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists credentials in Postgres, keyed by session so several
// sessions can share one table.
type Store struct {
	pool    querier
	session string
}

// New connects to Postgres and ensures the credentials table exists.
func New(ctx context.Context, dsn, session string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("credstore dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	store, err := NewWithPool(pool, session)
	if err != nil {
		pool.Close()
		return nil, err
	}
	schema := `
		CREATE TABLE IF NOT EXISTS session_credentials (
			session TEXT NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session, name)
		);
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init credential schema: %w", err)
	}
	return store, nil
}

// NewWithPool wires an existing pool (or a mock) without touching the schema.
func NewWithPool(pool querier, session string) (*Store, error) {
	if session == "" {
		return nil, errors.New("credstore session is required")
	}
	return &Store{pool: pool, session: session}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// GetToken returns the stored token or credstore.ErrNotFound.
func (s *Store) GetToken(ctx context.Context) (credstore.Token, error) {
	value, expiresAt, err := s.getRow(ctx, rowToken)
	if err != nil {
		return credstore.Token{}, err
	}
	return credstore.Token{Value: value, ExpiresAt: expiresAt}, nil
}

// PutToken overwrites the stored token.
func (s *Store) PutToken(ctx context.Context, tok credstore.Token) error {
	return s.putRow(ctx, rowToken, tok.Value, tok.ExpiresAt)
}

// GetLock returns the stored lock record or credstore.ErrNotFound.
func (s *Store) GetLock(ctx context.Context) (credstore.Lock, error) {
	value, expiresAt, err := s.getRow(ctx, rowLock)
	if err != nil {
		return credstore.Lock{}, err
	}
	return credstore.Lock{OwnerID: value, ExpiresAt: expiresAt}, nil
}

// PutLock overwrites the lock record.
func (s *Store) PutLock(ctx context.Context, lock credstore.Lock) error {
	return s.putRow(ctx, rowLock, lock.OwnerID, lock.ExpiresAt)
}

// ClearLock deletes the lock record if ownerID still owns it.
func (s *Store) ClearLock(ctx context.Context, ownerID string) error {
	query := `DELETE FROM session_credentials WHERE session = $1 AND name = $2 AND value = $3;`
	if _, err := s.pool.Exec(ctx, query, s.session, rowLock, ownerID); err != nil {
		return fmt.Errorf("clear lock: %w", err)
	}
	return nil
}

func (s *Store) getRow(ctx context.Context, name string) (string, time.Time, error) {
	query := `SELECT value, expires_at FROM session_credentials WHERE session = $1 AND name = $2;`
	var value string
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx, query, s.session, name).Scan(&value, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", time.Time{}, credstore.ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read %s: %w", name, err)
	}
	return value, expiresAt.UTC(), nil
}

func (s *Store) putRow(ctx context.Context, name, value string, expiresAt time.Time) error {
	query := `
		INSERT INTO session_credentials (session, name, value, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session, name) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at;
	`
	if _, err := s.pool.Exec(ctx, query, s.session, name, value, expiresAt); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
