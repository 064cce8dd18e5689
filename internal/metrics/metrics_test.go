package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Registration state is process-global, so the unregistered and registered
// behaviors are exercised in one ordered test.
func TestRegisterAndHelpers(t *testing.T) {
	// Before registration every helper is a silent no-op.
	IncRestart()
	IncRestartBlocked()
	IncRestartLimit()
	IncShutdown("SIGTERM")
	SetRestartCount(3)
	SetMemory(100, 200)
	assert.Equal(t, 0.0, testutil.ToFloat64(restartsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(restartCount))

	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	IncRestart()
	IncRestart()
	IncRestartBlocked()
	IncRestartLimit()
	IncShutdown("SIGTERM")
	IncShutdown("SIGTERM")
	IncShutdown("MAX_RESTARTS_REACHED")
	SetRestartCount(4)
	SetMemory(321, 654)

	assert.Equal(t, 2.0, testutil.ToFloat64(restartsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(restartsBlocked))
	assert.Equal(t, 1.0, testutil.ToFloat64(restartLimitHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(shutdownsTotal.WithLabelValues("SIGTERM")))
	assert.Equal(t, 1.0, testutil.ToFloat64(shutdownsTotal.WithLabelValues("MAX_RESTARTS_REACHED")))
	assert.Equal(t, 4.0, testutil.ToFloat64(restartCount))
	assert.Equal(t, 321.0, testutil.ToFloat64(heapUsedMB))
	assert.Equal(t, 654.0, testutil.ToFloat64(rssMB))

	// Repeated registration is a no-op, not an error.
	require.NoError(t, Register(reg))
	require.NoError(t, Register(prometheus.NewRegistry()))
}

func TestHandlerServesMetrics(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}
