package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/listenupapp/fen/internal/watcher"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newState is what an engine reports as its previous state on creation.
const newState watcher.State = -1

func TestMetrics_EngineStates(t *testing.T) {
	m := New()

	m.EngineStateChanged(newState, watcher.StatePending)
	m.EngineStateChanged(newState, watcher.StatePending)
	m.EngineStateChanged(watcher.StatePending, watcher.StateEnabled)

	assert.InDelta(t, 1, testutil.ToFloat64(m.engines.WithLabelValues("pending")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.engines.WithLabelValues("enabled")), 0)

	m.EngineStateChanged(watcher.StateEnabled, watcher.StateDisabled)
	m.EngineStateChanged(watcher.StateDisabled, watcher.StateDisposed)
	m.EngineStateChanged(watcher.StatePending, watcher.StateDisposed)

	assert.InDelta(t, 0, testutil.ToFloat64(m.engines.WithLabelValues("pending")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.engines.WithLabelValues("enabled")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.engines.WithLabelValues("disabled")), 0)
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.SubscriptionsChanged(3)
	m.SubscriptionsChanged(-1)
	m.EventReceived(watcher.EventCreated)
	m.EventReceived(watcher.EventChanged)
	m.EventReceived(watcher.EventChanged)
	m.DuplicatesDropped(2)
	m.EventDispatched(watcher.EventCreated)
	m.CallbackPanicked()
	m.NativeFailure()
	m.Reinitialized()

	assert.InDelta(t, 2, testutil.ToFloat64(m.subscriptions), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.eventsReceived.WithLabelValues("changed")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.duplicates), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.eventsDelivered.WithLabelValues("created")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.callbackPanics), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.nativeFailures), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.reinits), 0)
}

func TestMetrics_InstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.NativeFailure()

	assert.InDelta(t, 1, testutil.ToFloat64(a.nativeFailures), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(b.nativeFailures), 0)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "/health", http.StatusOK, 3*time.Millisecond)
	m.Reinitialized()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "fen_reinitializations_total 1")
	assert.Contains(t, body, `fen_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetrics_Stream(t *testing.T) {
	m := New()

	m.StreamClientsChanged(3)
	m.StreamClientsChanged(-1)
	m.StreamEventDropped()

	assert.InDelta(t, 2, testutil.ToFloat64(m.streamClients), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.streamDropped), 0)
}
