package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_ScanMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementScanAttempts(ModePrimary, StatusError)
	pm.IncrementScanAttempts(ModeFallback, StatusSuccess)
	pm.IncrementScanAttempts(ModeFallback, StatusSuccess)

	assert.Equal(t, 2, testutil.CollectAndCount(pm.scanAttempts))
	assert.Equal(t, float64(2), testutil.ToFloat64(pm.scanAttempts.WithLabelValues(ModeFallback, StatusSuccess)))

	pm.IncrementFallbacks("PERMISSION")
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.fallbacks.WithLabelValues("PERMISSION")))

	pm.AddPortsFound(ModePrimary, 7)
	assert.Equal(t, float64(7), testutil.ToFloat64(pm.portsFound.WithLabelValues(ModePrimary)))

	pm.RecordScanDuration("small", StatusSuccess, 3*time.Second)
	pm.RecordScanDuration("large", StatusError, 0)
	assert.Equal(t, 2, testutil.CollectAndCount(pm.scanDuration))
}

func TestPrometheusMetrics_RunMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()
	at := time.Unix(1700000000, 0)

	pm.RecordRun(StatusError, at)
	assert.Zero(t, testutil.ToFloat64(pm.lastSuccess))

	pm.RecordRun(StatusSuccess, at)
	assert.Equal(t, float64(1700000000), testutil.ToFloat64(pm.lastSuccess))

	pm.IncrementFingerprints(StatusSuccess)
	pm.IncrementFingerprints(StatusError)
	assert.Equal(t, 2, testutil.CollectAndCount(pm.fingerprints))
}

func TestPrometheusMetrics_NilReceiver(t *testing.T) {
	var pm *PrometheusMetrics

	assert.NotPanics(t, func() {
		pm.IncrementScanAttempts(ModePrimary, StatusSuccess)
		pm.RecordScanDuration("small", StatusSuccess, time.Second)
		pm.IncrementFallbacks("EXECUTION")
		pm.AddPortsFound(ModePrimary, 1)
		pm.IncrementFingerprints(StatusSuccess)
		pm.RecordRun(StatusSuccess, time.Now())
	})
}

func TestPrometheusMetrics_Handler(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.IncrementScanAttempts(ModePrimary, StatusSuccess)

	rr := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "nemesis_scan_attempts_total"))
	assert.True(t, strings.Contains(rr.Body.String(), "go_goroutines"))
}

func TestGetGlobalMetrics(t *testing.T) {
	assert.Same(t, GetGlobalMetrics(), GetGlobalMetrics())
}
