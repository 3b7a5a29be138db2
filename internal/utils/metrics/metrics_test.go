package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// createTestMetrics creates metrics with a custom registry so tests never touch the default one.
func createTestMetrics() *Metrics {
	return NewWithRegistry("test", prometheus.NewRegistry())
}

func TestRecordHTTPRequest(t *testing.T) {
	m := createTestMetrics()

	m.RecordHTTPRequest("GET", "/api/v1/catalog", 200, 50*time.Millisecond)
	m.RecordHTTPRequest("GET", "/api/v1/catalog", 201, 50*time.Millisecond)
	m.RecordHTTPRequest("POST", "/api/v1/sessions/:id/generations", 422, time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/catalog", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/sessions/:id/generations", "4xx")))
}

func TestRecordGeneration(t *testing.T) {
	m := createTestMetrics()

	m.RecordGeneration("gemini-2.5-flash-image", true, time.Second)
	m.RecordGeneration("gemini-2.5-flash-image", false, time.Second)
	m.RecordGeneration("gemini-2.5-flash-image", true, time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.GenerationsTotal.WithLabelValues("gemini-2.5-flash-image", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GenerationsTotal.WithLabelValues("gemini-2.5-flash-image", "failure")))
}

func TestPipelineCounters(t *testing.T) {
	m := createTestMetrics()

	m.RecordTranslation(false)
	m.RecordDownload(true)
	m.RecordPreprocessFailure()
	m.RecordPreprocessFailure()
	m.SetActiveSessions(3)
	m.SetRemoteHealth(true)
	m.RecordCacheHit("download")
	m.RecordCacheMiss("download")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TranslationsTotal.WithLabelValues("failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DownloadsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PreprocessFailures))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RemoteEndpointHealthy))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("download")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("download")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
		m.RecordGeneration("x", true, time.Millisecond)
		m.RecordTranslation(true)
		m.RecordDownload(false)
		m.RecordPreprocessFailure()
		m.SetActiveSessions(1)
		m.SetRemoteHealth(false)
		m.RecordCacheHit("x")
		m.RecordCacheMiss("x")
	})
}

func TestStatusCodeToString(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{200, "2xx"},
		{301, "3xx"},
		{429, "4xx"},
		{502, "5xx"},
		{100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, statusCodeToString(tt.code))
	}
}
