package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	require.NoError(t, (<-ch).Write(&m))
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()

	a.Evictions.Inc()
	a.GateDecisions.WithLabelValues("visitor", "allowed").Add(2)

	assert.Equal(t, 1.0, value(t, a.Evictions))
	assert.Equal(t, 0.0, value(t, b.Evictions))
	assert.Equal(t, 2.0, value(t, a.GateDecisions.WithLabelValues("visitor", "allowed")))
}

func TestOrDiscard(t *testing.T) {
	m := New()
	assert.Same(t, m, OrDiscard(m))
	assert.NotNil(t, OrDiscard(nil).SyncQueued)
}

func TestHandler(t *testing.T) {
	m := New()
	m.SyncApplied.Add(3)
	m.Online.Set(1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "datavis_sync_applied_total 3")
	assert.Contains(t, string(body), "datavis_remote_online 1")
	assert.Contains(t, string(body), "go_goroutines")
}
