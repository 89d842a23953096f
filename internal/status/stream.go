package status

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sightrank/sightrank-go/internal/metrics"
)

// ConnState is the lifecycle state of one stream subscription. It is owned by
// a single Stream instance and is never shared across processes.
type ConnState string

// Stream connection states.
const (
	StateIdle            ConnState = "idle"
	StateConnecting      ConnState = "connecting"
	StateOpen            ConnState = "open"
	StateReconnecting    ConnState = "reconnecting"
	StateFallbackPolling ConnState = "fallback_polling"
	StateClosed          ConnState = "closed"
)

// ChannelGrant is the authorization material for opening a push channel. The
// raw bearer token never appears in a plain query string; the auth service
// either signs the URL or supplies side-channel headers.
type ChannelGrant struct {
	URL    string
	Header map[string]string
}

// ChannelAuthorizer produces channel grants for a job's push channel.
type ChannelAuthorizer interface {
	AuthorizeChannel(ctx context.Context, jobID string) (ChannelGrant, error)
}

// Conn is one open push channel. Recv blocks until the next snapshot or a
// transport error.
type Conn interface {
	Recv() (Snapshot, error)
	Close() error
}

// Transport dials push channels. The production implementation speaks SSE;
// tests substitute scripted fakes.
type Transport interface {
	Open(ctx context.Context, grant ChannelGrant) (Conn, error)
}

// StreamConfig controls reconnect and fallback behavior.
type StreamConfig struct {
	// Policy supplies reconnect delays. Zero value gets defaults.
	Policy Policy
	// MaxReconnects caps reconnection attempts before falling back to
	// polling (default 3).
	MaxReconnects int
	// Poll configures the fallback poller.
	Poll PollerConfig
	// Logger is optional.
	Logger *zap.Logger
}

const defaultMaxReconnects = 3

func (c StreamConfig) withDefaults() StreamConfig {
	if c.Policy == (Policy{}) {
		c.Policy = NewPolicy(2*time.Second, 10*time.Second)
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = defaultMaxReconnects
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	c.Poll.Logger = c.Logger
	return c
}

// Stream is the primary push-based status channel for one job, with
// transparent degrade-to-poll. Snapshots are delivered at-least-once in
// arrival order; consumers only need the last known snapshot.
type Stream struct {
	jobID     string
	auth      ChannelAuthorizer
	transport Transport
	fetch     Fetcher
	cfg       StreamConfig
	n         *notifier

	mu       sync.Mutex
	state    ConnState
	last     *Snapshot
	lastErr  error
	fallback bool
	poller   *Poller
	conn     Conn
	cancel   context.CancelFunc
	runDone  chan struct{}
	closed   bool
	started  bool
}

// NewStream constructs a Stream for one job. Call Start to connect.
func NewStream(
	jobID string,
	auth ChannelAuthorizer,
	transport Transport,
	fetch Fetcher,
	cfg StreamConfig,
	cb Callbacks,
) *Stream {
	return &Stream{
		jobID:     jobID,
		auth:      auth,
		transport: transport,
		fetch:     fetch,
		cfg:       cfg.withDefaults(),
		n:         newNotifier(cb),
		state:     StateIdle,
	}
}

// Start opens the push channel. Calling Start on an already-started stream is
// a no-op; use Reconnect to re-arm a closed or fallen-back stream.
func (s *Stream) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.startLocked()
}

func (s *Stream) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.started = true
	s.cancel = cancel
	s.runDone = done
	s.state = StateConnecting
	go s.run(ctx, done)
}

// Close marks the shutdown as intentional, releases the transport and all
// timers, and suppresses any in-flight reconnect logic. It never invokes
// OnError and is idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopActivityLocked()
	s.state = StateClosed
	s.mu.Unlock()
}

// Reconnect re-arms the push channel after fallback or closure, unless a
// terminal snapshot was already delivered.
func (s *Stream) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n.finished() {
		return
	}
	s.stopActivityLocked()
	s.closed = false
	s.fallback = false
	s.startLocked()
}

// stopActivityLocked tears down the run goroutine and fallback poller.
func (s *Stream) stopActivityLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.poller != nil {
		s.poller.Stop()
		s.poller = nil
	}
	s.started = false
}

// State returns the current connection state.
func (s *Stream) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the push channel is open.
func (s *Stream) IsConnected() bool {
	return s.State() == StateOpen
}

// IsFallback reports whether delivery has degraded to polling.
func (s *Stream) IsFallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// LastSnapshot returns the most recently delivered snapshot, if any.
func (s *Stream) LastSnapshot() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Snapshot{}, false
	}
	return *s.last, true
}

// Err returns the last connectivity or credential error observed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Stream) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	for {
		if s.intentionallyClosed(ctx) {
			return
		}
		s.setState(StateConnecting)

		conn, err := s.dial(ctx)
		if err != nil {
			if s.intentionallyClosed(ctx) {
				return
			}
			if errors.Is(err, ErrUnauthorized) {
				s.cfg.Logger.Warn("stream rejected, credential invalid",
					zap.String("job_id", s.jobID))
				s.recordErr(err)
				s.n.fail(err)
				s.setState(StateClosed)
				return
			}
			s.cfg.Logger.Debug("stream dial failed",
				zap.String("job_id", s.jobID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			s.recordErr(ErrStreamUnavailable)
			s.n.transient(ErrStreamUnavailable)
			if !s.backoffOrFallback(ctx, &attempt) {
				return
			}
			continue
		}

		s.setConn(conn)
		s.setState(StateOpen)
		attempt = 0

		if terminal := s.readLoop(ctx, conn); terminal {
			s.setState(StateClosed)
			return
		}
		if s.intentionallyClosed(ctx) {
			return
		}
		s.recordErr(ErrStreamUnavailable)
		s.n.transient(ErrStreamUnavailable)
		if !s.backoffOrFallback(ctx, &attempt) {
			return
		}
	}
}

// dial authorizes and opens one push channel.
func (s *Stream) dial(ctx context.Context) (Conn, error) {
	grant, err := s.auth.AuthorizeChannel(ctx, s.jobID)
	if err != nil {
		return nil, err
	}
	return s.transport.Open(ctx, grant)
}

// readLoop drains the connection. It returns true once a terminal snapshot
// has been delivered and the channel closed.
func (s *Stream) readLoop(ctx context.Context, conn Conn) bool {
	defer func() {
		_ = conn.Close()
		s.setConn(nil)
	}()
	for {
		snap, err := conn.Recv()
		if err != nil {
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		metrics.ObserveSnapshot(metrics.SourceStream)
		s.recordSnapshot(snap)
		s.n.snapshot(snap)
		if snap.Status.Terminal() {
			return true
		}
	}
}

// backoffOrFallback waits Delay(attempt) before the next dial. Once the
// attempt cap is exhausted it hands delivery to the poller permanently and
// returns false. It also returns false when the stream was closed while
// waiting.
func (s *Stream) backoffOrFallback(ctx context.Context, attempt *int) bool {
	*attempt++
	if *attempt > s.cfg.MaxReconnects {
		s.startFallback(ctx)
		return false
	}
	metrics.ObserveStreamReconnect()
	s.setState(StateReconnecting)
	delay := time.NewTimer(s.cfg.Policy.Delay(*attempt - 1))
	defer delay.Stop()
	select {
	case <-delay.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// startFallback delegates to the Status Poller using the shared terminal
// guard, so a snapshot racing in from both paths still completes only once.
func (s *Stream) startFallback(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || ctx.Err() != nil {
		return
	}
	s.cfg.Logger.Info("stream reconnects exhausted, falling back to polling",
		zap.String("job_id", s.jobID),
		zap.Int("attempts", s.cfg.MaxReconnects))
	metrics.ObserveStreamFallback()
	s.fallback = true
	s.state = StateFallbackPolling

	fetch := FetcherFunc(func(ctx context.Context, jobID string) (Snapshot, error) {
		snap, err := s.fetch.FetchStatus(ctx, jobID)
		if err == nil {
			s.recordSnapshot(snap)
		}
		return snap, err
	})
	s.poller = newPoller(s.jobID, fetch, s.cfg.Poll, s.n)
	poller := s.poller
	s.poller.Start()
	go func() {
		<-poller.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == StateFallbackPolling && s.n.finished() {
			s.state = StateClosed
		}
	}()
}

func (s *Stream) intentionallyClosed(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) setState(state ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed && state != StateClosed {
		return
	}
	s.state = state
}

func (s *Stream) setConn(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

func (s *Stream) recordSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &snap
}

func (s *Stream) recordErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}
