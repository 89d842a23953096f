// Package metrics exposes Prometheus collectors for the status client.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot delivery sources.
const (
	SourceStream = "stream"
	SourcePoll   = "poll"
)

// Token refresh outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeBorrowed = "borrowed"
)

var (
	snapshotsTotal        *prometheus.CounterVec
	streamReconnectsTotal prometheus.Counter
	streamFallbacksTotal  prometheus.Counter
	pollTimeoutsTotal     prometheus.Counter
	tokenRefreshesTotal   *prometheus.CounterVec
	refreshLockWaitsTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times; the Observe helpers call it themselves so callers never have to
// worry about registration order.
func Init() {
	once.Do(func() {
		snapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sightrank_snapshots_total",
				Help: "Total job status snapshots delivered, labeled by delivery source.",
			},
			[]string{"source"},
		)

		streamReconnectsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sightrank_stream_reconnects_total",
				Help: "Total push channel reconnection attempts.",
			},
		)

		streamFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sightrank_stream_fallbacks_total",
				Help: "Total transitions from the push channel to fallback polling.",
			},
		)

		pollTimeoutsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sightrank_poll_timeouts_total",
				Help: "Total polls abandoned after exhausting their budget.",
			},
		)

		tokenRefreshesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sightrank_token_refreshes_total",
				Help: "Total token acquisitions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		refreshLockWaitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sightrank_refresh_lock_waits_total",
				Help: "Total waits on another holder's refresh lock.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSnapshot counts one delivered snapshot.
func ObserveSnapshot(source string) {
	Init()
	snapshotsTotal.WithLabelValues(source).Inc()
}

// ObserveStreamReconnect counts one reconnection attempt.
func ObserveStreamReconnect() {
	Init()
	streamReconnectsTotal.Inc()
}

// ObserveStreamFallback counts one degrade-to-poll transition.
func ObserveStreamFallback() {
	Init()
	streamFallbacksTotal.Inc()
}

// ObservePollTimeout counts one exhausted polling budget.
func ObservePollTimeout() {
	Init()
	pollTimeoutsTotal.Inc()
}

// ObserveTokenRefresh counts one token acquisition by outcome.
func ObserveTokenRefresh(outcome string) {
	Init()
	tokenRefreshesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRefreshLockWait counts one wait on a foreign refresh lock.
func ObserveRefreshLockWait() {
	Init()
	refreshLockWaitsTotal.Inc()
}
