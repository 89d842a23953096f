package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// TokenSource supplies a valid bearer token for authenticated requests. The
// auth coordinator implements it; all lock and broadcast machinery stays
// hidden behind this method.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the audit backend's job-status endpoints. It implements
// both Fetcher (point-in-time polls) and ChannelAuthorizer (signed push
// channel URLs).
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *zap.Logger
}

// NewClient constructs a Client. baseURL must not end with a slash.
func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		tokens:  tokens,
		logger:  logger,
	}
}

// FetchStatus implements Fetcher against GET /v1/jobs/{id}/status.
func (c *Client) FetchStatus(ctx context.Context, jobID string) (Snapshot, error) {
	url := fmt.Sprintf("%s/v1/jobs/%s/status", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build status request: %w", err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return Snapshot{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return Snapshot{}, fmt.Errorf("fetch status: %w", ErrUnauthorized)
	default:
		return Snapshot{}, fmt.Errorf("fetch status: unexpected status %d", resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode status: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("invalid status payload: %w", err)
	}
	return snap, nil
}

// AuthorizeChannel implements ChannelAuthorizer against
// POST /v1/auth/channel. The backend returns a short-lived signed URL, so the
// bearer token itself never travels in a query string.
func (c *Client) AuthorizeChannel(ctx context.Context, jobID string) (ChannelGrant, error) {
	body, err := json.Marshal(map[string]string{"job_id": jobID})
	if err != nil {
		return ChannelGrant{}, fmt.Errorf("encode channel request: %w", err)
	}
	url := c.baseURL + "/v1/auth/channel"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ChannelGrant{}, fmt.Errorf("build channel request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return ChannelGrant{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ChannelGrant{}, fmt.Errorf("authorize channel: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return ChannelGrant{}, fmt.Errorf("authorize channel: %w", ErrUnauthorized)
	default:
		return ChannelGrant{}, fmt.Errorf("authorize channel: unexpected status %d", resp.StatusCode)
	}

	var grant struct {
		URL       string    `json:"url"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return ChannelGrant{}, fmt.Errorf("decode channel grant: %w", err)
	}
	if grant.URL == "" {
		return ChannelGrant{}, fmt.Errorf("authorize channel: empty grant URL")
	}
	return ChannelGrant{URL: grant.URL}, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
