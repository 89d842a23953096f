package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sightrank/sightrank-go/internal/credstore"
)

// ErrRefreshRejected marks an authoritative refusal from the auth service,
// e.g. a revoked session. It is not retried.
var ErrRefreshRejected = errors.New("auth: refresh rejected")

// Refresher performs the network refresh against the auth service. Refreshes
// must be idempotent: fetching a new token twice is wasteful but never
// incorrect, which is what lets the advisory lock stay advisory.
type Refresher interface {
	Refresh(ctx context.Context) (credstore.Token, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context) (credstore.Token, error)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context) (credstore.Token, error) {
	return f(ctx)
}

// HTTPRefresher exchanges a long-lived refresh token for a fresh access
// token at POST {baseURL}/v1/auth/token.
type HTTPRefresher struct {
	baseURL      string
	refreshToken string
	http         *http.Client
}

// NewHTTPRefresher constructs an HTTPRefresher.
func NewHTTPRefresher(baseURL, refreshToken string, httpClient *http.Client) *HTTPRefresher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPRefresher{
		baseURL:      baseURL,
		refreshToken: refreshToken,
		http:         httpClient,
	}
}

// Refresh performs the token exchange.
func (r *HTTPRefresher) Refresh(ctx context.Context) (credstore.Token, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": r.refreshToken})
	if err != nil {
		return credstore.Token{}, fmt.Errorf("encode refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return credstore.Token{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return credstore.Token{}, fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return credstore.Token{}, fmt.Errorf("refresh token: %w", ErrRefreshRejected)
	default:
		return credstore.Token{}, fmt.Errorf("refresh token: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return credstore.Token{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if payload.Token == "" {
		return credstore.Token{}, errors.New("refresh token: empty token in response")
	}
	return credstore.Token{Value: payload.Token, ExpiresAt: payload.ExpiresAt}, nil
}
