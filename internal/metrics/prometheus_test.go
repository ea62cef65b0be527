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

func TestPrometheusMetrics_Initialization(t *testing.T) {
	pm := NewPrometheusMetrics()
	require.NotNil(t, pm)
	require.NotNil(t, pm.GetRegistry())

	before := pm.GetUptime()
	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, pm.GetUptime(), before)
}

func TestPrometheusMetrics_ObserveAttempt(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.ObserveAttempt("open", 10*time.Millisecond)
	pm.ObserveAttempt("open", 12*time.Millisecond)
	pm.ObserveAttempt("closed", time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(pm.attemptsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(pm.attemptsTotal.WithLabelValues("open")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.attemptsTotal.WithLabelValues("closed")))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.attemptDuration))
}

func TestPrometheusMetrics_ScanLifecycle(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.ScanStarted("range")
	pm.ScanStarted("list")
	assert.Equal(t, float64(2), testutil.ToFloat64(pm.activeScans))

	pm.ScanFinished("range", "success", time.Second)
	pm.ScanFinished("list", "cancelled", 2*time.Second)

	assert.Equal(t, float64(0), testutil.ToFloat64(pm.activeScans))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.scansTotal.WithLabelValues("range", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.scansTotal.WithLabelValues("list", "cancelled")))
	assert.Equal(t, 2, testutil.CollectAndCount(pm.scanDuration))
}

func TestPrometheusMetrics_HTTPHandlerServes(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.ObserveHTTPRequest(http.MethodGet, "/api/v1/health", http.StatusOK, time.Millisecond)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	pm.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, "portprobe_http_requests_total"), "missing http counter")
	assert.Contains(t, body, `status="200"`)
	assert.Contains(t, body, "go_goroutines")
}

func TestPrometheusMetrics_ObserveJob(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.ObserveJob("probe", "success", 0, time.Second)
	pm.ObserveJob("probe", "error", 3, 4*time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(pm.jobsTotal.WithLabelValues("probe", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.jobsTotal.WithLabelValues("probe", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.jobRetries))
}

func TestGetGlobalMetrics(t *testing.T) {
	first := GetGlobalMetrics()
	second := GetGlobalMetrics()
	assert.Same(t, first, second)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = Nop{}
	assert.NotPanics(t, func() {
		r.ObserveAttempt("open", time.Second)
		r.ScanStarted("range")
		r.ScanFinished("range", "success", time.Second)
		r.ObserveHTTPRequest("GET", "/", 200, time.Second)
		r.ObserveJob("probe", "success", 0, time.Second)
	})
}
