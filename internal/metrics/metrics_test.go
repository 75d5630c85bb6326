package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestAttachedSessionsGaugeTracksIncDec(t *testing.T) {
	reg := NewRegistry()
	reg.AttachedSessions.Inc()
	reg.AttachedSessions.Inc()
	require.Equal(t, float64(2), testutil.ToFloat64(reg.AttachedSessions))
	reg.AttachedSessions.Dec()
	require.Equal(t, float64(1), testutil.ToFloat64(reg.AttachedSessions))
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	reg := NewRegistry()
	reg.Bans.Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	reg.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "cosmowire_bans_total 1")
}

func TestHealthHandlerReturnsOK(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	Health(rec, req)
	require.Equal(t, 200, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
