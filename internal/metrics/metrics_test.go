package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/asr-gateway/internal/pool"
)

type staticPool struct{ stats pool.Stats }

func (p staticPool) Stats() pool.Stats { return p.stats }

type staticSessions int

func (s staticSessions) Len() int { return int(s) }

func TestCollector_PoolGauges(t *testing.T) {
	m := New(staticPool{pool.Stats{
		Size:      4,
		Open:      2,
		Closed:    1,
		Bound:     1,
		Available: 1,
		Acquired:  5,
		Rejected:  2,
	}}, staticSessions(3))

	expected := `
# HELP asr_gateway_pool_slots Backend pool slots by link state.
# TYPE asr_gateway_pool_slots gauge
asr_gateway_pool_slots{state="closed"} 1
asr_gateway_pool_slots{state="open"} 2
asr_gateway_pool_slots{state="unconnected"} 0
# HELP asr_gateway_pool_size Configured number of backend slots.
# TYPE asr_gateway_pool_size gauge
asr_gateway_pool_size 4
# HELP asr_gateway_sessions_active Client sessions currently registered.
# TYPE asr_gateway_sessions_active gauge
asr_gateway_sessions_active 3
`
	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"asr_gateway_pool_slots", "asr_gateway_pool_size", "asr_gateway_sessions_active")
	assert.NoError(t, err)
}

func TestCollector_PoolOperations(t *testing.T) {
	m := New(staticPool{pool.Stats{Size: 1, Acquired: 7, Released: 6, Evicted: 1}}, nil)

	expected := `
# HELP asr_gateway_pool_operations_total Pool operations by kind.
# TYPE asr_gateway_pool_operations_total counter
asr_gateway_pool_operations_total{op="acquired"} 7
asr_gateway_pool_operations_total{op="evicted"} 1
asr_gateway_pool_operations_total{op="redialed"} 0
asr_gateway_pool_operations_total{op="rejected"} 0
asr_gateway_pool_operations_total{op="released"} 6
`
	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "asr_gateway_pool_operations_total")
	assert.NoError(t, err)
}

func TestEventCounters(t *testing.T) {
	m := New(nil, nil)

	m.SessionOpened(OutcomeAccepted)
	m.SessionOpened(OutcomeAccepted)
	m.SessionOpened(OutcomeExhausted)
	m.AudioForwarded(3000)
	m.AudioForwarded(6000)
	m.ResultRelayed("asrfull")
	m.ResultRelayed("")
	m.BackendFailure()
	m.LedgerError("prediction_open")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessions.WithLabelValues(OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues(OutcomeExhausted)))
	assert.Equal(t, 9000.0, testutil.ToFloat64(m.audioBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.results.WithLabelValues("asrfull")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.results.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backendFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerErrors.WithLabelValues("prediction_open")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened(OutcomeAccepted)
		m.AudioForwarded(10)
		m.ResultRelayed("asrpart")
		m.BackendFailure()
		m.LedgerError("playback")
	})
}

func TestHandler(t *testing.T) {
	m := New(staticPool{pool.Stats{Size: 2, Open: 2, Available: 2}}, staticSessions(0))
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "asr_gateway_pool_available 2")
	assert.Contains(t, string(body), "go_goroutines")
}
