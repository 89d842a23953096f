package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sightrank/sightrank-go/internal/credstore"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "credentials.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetToken(ctx)
	require.ErrorIs(t, err, credstore.ErrNotFound)

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	require.NoError(t, s.PutToken(ctx, credstore.Token{Value: "at-1", ExpiresAt: expiry}))

	tok, err := s.GetToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "at-1", tok.Value)
	require.True(t, tok.ExpiresAt.Equal(expiry))
}

func TestPutTokenLastWriterWins(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutToken(ctx, credstore.Token{Value: "at-old", ExpiresAt: time.Now()}))
	require.NoError(t, s.PutToken(ctx, credstore.Token{Value: "at-new", ExpiresAt: time.Now().Add(time.Hour)}))

	tok, err := s.GetToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "at-new", tok.Value)
}

func TestLockRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetLock(ctx)
	require.ErrorIs(t, err, credstore.ErrNotFound)

	expiry := time.Now().Add(10 * time.Second).UTC().Truncate(time.Millisecond)
	require.NoError(t, s.PutLock(ctx, credstore.Lock{OwnerID: "tab-a", ExpiresAt: expiry}))

	lock, err := s.GetLock(ctx)
	require.NoError(t, err)
	require.Equal(t, "tab-a", lock.OwnerID)
	require.True(t, lock.ExpiresAt.Equal(expiry))
}

func TestClearLockChecksOwner(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutLock(ctx, credstore.Lock{OwnerID: "tab-a", ExpiresAt: time.Now().Add(10 * time.Second)}))

	// A different owner's release must not clobber the current claim.
	require.NoError(t, s.ClearLock(ctx, "tab-b"))
	lock, err := s.GetLock(ctx)
	require.NoError(t, err)
	require.Equal(t, "tab-a", lock.OwnerID)

	require.NoError(t, s.ClearLock(ctx, "tab-a"))
	_, err = s.GetLock(ctx)
	require.ErrorIs(t, err, credstore.ErrNotFound)
}

func TestSeparateOpensShareState(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.db")
	writer, err := Open(path)
	require.NoError(t, err)
	defer writer.Close() //nolint:errcheck

	reader, err := Open(path)
	require.NoError(t, err)
	defer reader.Close() //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, writer.PutToken(ctx, credstore.Token{
		Value:     "at-shared",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	tok, err := reader.GetToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "at-shared", tok.Value)
}

func TestTokenAndLockAreIndependentRows(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutToken(ctx, credstore.Token{Value: "at-1", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, s.PutLock(ctx, credstore.Lock{OwnerID: "tab-a", ExpiresAt: time.Now().Add(10 * time.Second)}))
	require.NoError(t, s.ClearLock(ctx, "tab-a"))

	tok, err := s.GetToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "at-1", tok.Value)
}
