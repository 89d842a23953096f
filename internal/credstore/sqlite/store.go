// Package sqlite provides the default credstore implementation: a small
// SQLite database shared by every client process on the machine. WAL mode
// plus a busy timeout lets concurrent processes read and write it without a
// coordinating daemon.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sightrank/sightrank-go/internal/credstore"
)

const (
	rowToken = "access_token"
	rowLock  = "refresh_lock"
)

// Store persists credentials in a SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the credential database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open credential db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS credentials (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init credential schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetToken returns the stored token or credstore.ErrNotFound.
func (s *Store) GetToken(ctx context.Context) (credstore.Token, error) {
	value, expiresAt, err := s.getRow(ctx, rowToken)
	if err != nil {
		return credstore.Token{}, err
	}
	return credstore.Token{Value: value, ExpiresAt: expiresAt}, nil
}

// PutToken overwrites the stored token. Last writer wins.
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

// PutLock overwrites the lock record. The claim is advisory; callers re-read
// after a short delay to detect lost races.
func (s *Store) PutLock(ctx context.Context, lock credstore.Lock) error {
	return s.putRow(ctx, rowLock, lock.OwnerID, lock.ExpiresAt)
}

// ClearLock deletes the lock record if ownerID still owns it.
func (s *Store) ClearLock(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE name = ? AND value = ?`, rowLock, ownerID)
	if err != nil {
		return fmt.Errorf("clear lock: %w", err)
	}
	return nil
}

func (s *Store) getRow(ctx context.Context, name string) (string, time.Time, error) {
	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM credentials WHERE name = ?`, name).
		Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, credstore.ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read %s: %w", name, err)
	}
	return value, time.UnixMilli(expiresAt).UTC(), nil
}

func (s *Store) putRow(ctx context.Context, name, value string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (name, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE
		SET value = excluded.value, expires_at = excluded.expires_at;
	`, name, value, expiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
