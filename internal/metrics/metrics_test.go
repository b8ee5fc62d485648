package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.BarsTotal.WithLabelValues("NSE:SBIN").Add(3)
	m.LineBreaks.WithLabelValues("NSE:SBIN").Inc()
	m.WSClients.Set(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `vwap_bars_processed_total{instrument="NSE:SBIN"} 3`)
	assert.Contains(t, body, "vwap_ws_clients 2")

	// independent registries do not collide
	New()
}

func healthz(t *testing.T, h *HealthStatus) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(strings.NewReader(rec.Body.String())).Decode(&body))
	return rec.Code, body
}

func TestHealthStatus(t *testing.T) {
	h := NewHealthStatus(true, true)
	code, body := healthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])

	h.SetSQLiteOK(true)
	_, body = healthz(t, h)
	assert.Equal(t, "degraded", body["status"])

	h.SetRedisConnected(true)
	h.SetInstruments(2)
	h.SetLastBarTime(time.Now().Add(-time.Minute))
	code, body = healthz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, 2.0, body["instruments"])
	assert.NotEmpty(t, body["bar_age"])
}

func TestHealthStatus_DisabledDependencies(t *testing.T) {
	code, body := healthz(t, NewHealthStatus(false, false))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}
