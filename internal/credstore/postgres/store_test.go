package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/sightrank/sightrank-go/internal/credstore"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "session-1")
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresSession(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "")
	require.Error(t, err)
}

func TestGetTokenReadsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	expiry := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT value, expires_at FROM session_credentials").
		WithArgs("session-1", "access_token").
		WillReturnRows(pgxmock.NewRows([]string{"value", "expires_at"}).
			AddRow("at-1", expiry))

	tok, err := store.GetToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "at-1", tok.Value)
	require.True(t, tok.ExpiresAt.Equal(expiry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTokenNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT value, expires_at FROM session_credentials").
		WithArgs("session-1", "access_token").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetToken(context.Background())
	require.ErrorIs(t, err, credstore.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutTokenUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	expiry := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO session_credentials").
		WithArgs("session-1", "access_token", "at-1", expiry).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.PutToken(context.Background(), credstore.Token{Value: "at-1", ExpiresAt: expiry})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLockReadsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	expiry := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT value, expires_at FROM session_credentials").
		WithArgs("session-1", "refresh_lock").
		WillReturnRows(pgxmock.NewRows([]string{"value", "expires_at"}).
			AddRow("tab-a", expiry))

	lock, err := store.GetLock(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tab-a", lock.OwnerID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutLockUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	expiry := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO session_credentials").
		WithArgs("session-1", "refresh_lock", "tab-a", expiry).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.PutLock(context.Background(), credstore.Lock{OwnerID: "tab-a", ExpiresAt: expiry})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClearLockScopedToOwner(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM session_credentials").
		WithArgs("session-1", "refresh_lock", "tab-a").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.ClearLock(context.Background(), "tab-a"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTokenWrapsQueryError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	queryErr := errors.New("connection reset")

	mock.ExpectQuery("SELECT value, expires_at FROM session_credentials").
		WithArgs("session-1", "access_token").
		WillReturnError(queryErr)

	_, err := store.GetToken(context.Background())
	require.ErrorIs(t, err, queryErr)
	require.NoError(t, mock.ExpectationsWereMet())
}
