package status

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sightrank/sightrank-go/internal/metrics"
)

// Fetcher retrieves a point-in-time snapshot for a job. Implementations must
// return ErrUnauthorized (possibly wrapped) when the backend rejects the
// credential.
type Fetcher interface {
	FetchStatus(ctx context.Context, jobID string) (Snapshot, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, jobID string) (Snapshot, error)

// FetchStatus calls f.
func (f FetcherFunc) FetchStatus(ctx context.Context, jobID string) (Snapshot, error) {
	return f(ctx, jobID)
}

// PollerConfig controls the polling schedule and budget.
type PollerConfig struct {
	// Policy supplies the delay between attempts. Zero value gets defaults.
	Policy Policy
	// MaxAttempts bounds the number of fetches (default 30).
	MaxAttempts int
	// MaxWallClock bounds the total polling duration (default 4 minutes).
	MaxWallClock time.Duration
	// Logger is optional.
	Logger *zap.Logger
}

const (
	defaultMaxAttempts  = 30
	defaultMaxWallClock = 4 * time.Minute
)

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Policy == (Policy{}) {
		c.Policy = DefaultPolicy()
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.MaxWallClock <= 0 {
		c.MaxWallClock = defaultMaxWallClock
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Poller repeatedly fetches a job's status until a terminal snapshot arrives
// or its budget runs out. It fetches immediately on Start, then again after
// Policy.Delay(attempt). Transient fetch errors keep the schedule going;
// credential errors end it.
type Poller struct {
	jobID string
	fetch Fetcher
	cfg   PollerConfig
	n     *notifier

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPoller constructs a Poller for one job. Call Start to begin.
func NewPoller(jobID string, fetch Fetcher, cfg PollerConfig, cb Callbacks) *Poller {
	return newPoller(jobID, fetch, cfg, newNotifier(cb))
}

// newPoller lets the stream client share its terminal guard with the fallback.
func newPoller(jobID string, fetch Fetcher, cfg PollerConfig, n *notifier) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		jobID:  jobID,
		fetch:  fetch,
		cfg:    cfg.withDefaults(),
		n:      n,
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
}

// Start launches the polling loop. Subsequent calls are no-ops.
func (p *Poller) Start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

// Stop cancels the loop and any pending timer. It is synchronous with respect
// to scheduling: no callback fires after Stop returns and the loop has
// observed the cancellation. Safe to call multiple times or after natural
// completion.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
	})
	p.startOnce.Do(func() {
		close(p.doneCh)
	})
}

// Done is closed once the polling loop has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.doneCh
}

func (p *Poller) run() {
	defer close(p.doneCh)

	wall := time.NewTimer(p.cfg.MaxWallClock)
	defer wall.Stop()

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if p.ctx.Err() != nil {
			return
		}
		snap, err := p.fetch.FetchStatus(p.ctx, p.jobID)
		switch {
		case err == nil:
			metrics.ObserveSnapshot(metrics.SourcePoll)
			p.n.snapshot(snap)
			if snap.Status.Terminal() {
				return
			}
		case errors.Is(err, ErrUnauthorized):
			p.cfg.Logger.Warn("status poll rejected, credential invalid",
				zap.String("job_id", p.jobID))
			p.n.fail(err)
			return
		case p.ctx.Err() != nil:
			return
		default:
			p.cfg.Logger.Debug("status poll failed",
				zap.String("job_id", p.jobID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}

		delay := time.NewTimer(p.cfg.Policy.Delay(attempt))
		select {
		case <-delay.C:
		case <-wall.C:
			delay.Stop()
			p.cfg.Logger.Warn("status poll budget exhausted",
				zap.String("job_id", p.jobID),
				zap.Int("attempts", attempt+1))
			metrics.ObservePollTimeout()
			p.n.timeout()
			return
		case <-p.ctx.Done():
			delay.Stop()
			return
		}
	}

	// Stop may have landed during the final attempt's fetch.
	if p.ctx.Err() != nil {
		return
	}
	p.cfg.Logger.Warn("status poll attempt cap reached",
		zap.String("job_id", p.jobID),
		zap.Int("attempts", p.cfg.MaxAttempts))
	metrics.ObservePollTimeout()
	p.n.timeout()
}
