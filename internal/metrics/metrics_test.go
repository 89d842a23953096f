package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if snapshotsTotal == nil || streamReconnectsTotal == nil ||
		streamFallbacksTotal == nil || pollTimeoutsTotal == nil ||
		tokenRefreshesTotal == nil || refreshLockWaitsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(snapshotsTotal.WithLabelValues(SourceStream))
	ObserveSnapshot(SourceStream)
	if got := testutil.ToFloat64(snapshotsTotal.WithLabelValues(SourceStream)); got != before+1 {
		t.Errorf("expected snapshot counter %f, got %f", before+1, got)
	}

	beforeFallbacks := testutil.ToFloat64(streamFallbacksTotal)
	ObserveStreamFallback()
	if got := testutil.ToFloat64(streamFallbacksTotal); got != beforeFallbacks+1 {
		t.Errorf("expected fallback counter %f, got %f", beforeFallbacks+1, got)
	}

	beforeRefreshes := testutil.ToFloat64(tokenRefreshesTotal.WithLabelValues(OutcomeOK))
	ObserveTokenRefresh(OutcomeOK)
	if got := testutil.ToFloat64(tokenRefreshesTotal.WithLabelValues(OutcomeOK)); got != beforeRefreshes+1 {
		t.Errorf("expected refresh counter %f, got %f", beforeRefreshes+1, got)
	}

	beforeWaits := testutil.ToFloat64(refreshLockWaitsTotal)
	ObserveRefreshLockWait()
	if got := testutil.ToFloat64(refreshLockWaitsTotal); got != beforeWaits+1 {
		t.Errorf("expected lock wait counter %f, got %f", beforeWaits+1, got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	ObserveStreamReconnect()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
