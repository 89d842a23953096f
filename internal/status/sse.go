package status

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// defaultHandshakeTimeout bounds how long a dial may wait for response
// headers. The stream body itself stays unbounded.
const defaultHandshakeTimeout = 15 * time.Second

// SSETransport opens server-sent-event channels. The backend frames each
// snapshot either as an SSE "data:" field or as a bare JSON line; both are
// accepted.
type SSETransport struct {
	client    *http.Client
	handshake time.Duration
}

// NewSSETransport builds a transport around the given client. The client must
// not carry an overall timeout, or long-lived streams would be cut off; pass
// nil for a suitable default. The dial itself is still bounded: a server that
// accepts the connection but never sends headers surfaces as a transport
// error instead of pinning the caller.
func NewSSETransport(client *http.Client) *SSETransport {
	return newSSETransport(client, defaultHandshakeTimeout)
}

func newSSETransport(client *http.Client, handshake time.Duration) *SSETransport {
	if client == nil {
		client = &http.Client{}
	}
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	return &SSETransport{client: client, handshake: handshake}
}

// Open dials the granted channel URL. 401/403 responses map to
// ErrUnauthorized; any other non-200 response is a transport error.
func (t *SSETransport) Open(ctx context.Context, grant ChannelGrant) (Conn, error) {
	dialCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(dialCtx, http.MethodGet, grant.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range grant.Header {
		req.Header.Set(k, v)
	}

	// The timer covers only the handshake; it is disarmed once headers
	// arrive so the established stream can live arbitrarily long.
	guard := time.AfterFunc(t.handshake, cancel)
	resp, err := t.client.Do(req)
	armed := guard.Stop()
	if err != nil {
		cancel()
		if !armed {
			return nil, fmt.Errorf("open stream: handshake timed out after %s: %w", t.handshake, err)
		}
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if !armed {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open stream: handshake timed out after %s", t.handshake)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open stream: %w", ErrUnauthorized)
	default:
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open stream: unexpected status %d", resp.StatusCode)
	}

	return &sseConn{
		resp:    resp,
		scanner: bufio.NewScanner(resp.Body),
		cancel:  cancel,
	}, nil
}

type sseConn struct {
	resp    *http.Response
	scanner *bufio.Scanner
	cancel  context.CancelFunc
}

// Recv blocks until the next framed snapshot. Comment lines and non-data SSE
// fields are skipped; malformed data lines are skipped rather than killing
// the channel, since at-least-once delivery of the latest snapshot is all the
// consumer needs.
func (c *sseConn) Recv() (Snapshot, error) {
	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if data, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			line = bytes.TrimSpace(data)
		}
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		snap, err := ParseSnapshot(line)
		if err != nil {
			continue
		}
		return snap, nil
	}
	if err := c.scanner.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("read stream: %w", err)
	}
	return Snapshot{}, fmt.Errorf("read stream: %w", ErrStreamUnavailable)
}

func (c *sseConn) Close() error {
	err := c.resp.Body.Close()
	c.cancel()
	return err
}
