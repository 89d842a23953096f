package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPRefresherExchangesToken(t *testing.T) {
	t.Parallel()

	expiry := time.Now().Add(2 * time.Minute).UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/auth/token", r.URL.Path)

		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "rt-long-lived", body.RefreshToken)

		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"token":      "at-new",
			"expires_at": expiry,
		})
	}))
	defer srv.Close()

	r := NewHTTPRefresher(srv.URL, "rt-long-lived", nil)
	tok, err := r.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "at-new", tok.Value)
	require.True(t, tok.ExpiresAt.Equal(expiry))
}

func TestHTTPRefresherRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	r := NewHTTPRefresher(srv.URL, "rt-revoked", nil)
	_, err := r.Refresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshRejected)
}

func TestHTTPRefresherEmptyToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":""}`)) //nolint:errcheck
	}))
	defer srv.Close()

	r := NewHTTPRefresher(srv.URL, "rt", nil)
	_, err := r.Refresh(context.Background())
	require.Error(t, err)
}
