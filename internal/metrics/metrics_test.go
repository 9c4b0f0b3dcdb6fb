package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveBatch(t *testing.T) {
	m := New("embedserver", false)
	m.ObserveBatch("base_v2", 3, 1, 2)
	m.ObserveBatch("base_v2", 2, 0, 0)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.textsTotal.WithLabelValues("base_v2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.truncatedTotal.WithLabelValues("base_v2")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheHitsTotal.WithLabelValues("base_v2")))
}

func TestHandler_ExposesServiceLabel(t *testing.T) {
	m := New("embedserver", true)
	m.ObserveRequest("/embed", http.StatusOK, 10*time.Millisecond)
	m.ObserveEncode("base_v2", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	assert.True(t, strings.Contains(text, `embedserver_http_requests_total{route="/embed",service="embedserver",status="200"} 1`), text)
	assert.Contains(t, text, "embedserver_encode_duration_seconds_bucket")
	assert.Contains(t, text, "go_goroutines")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("/health", 200, time.Second)
	m.ObserveBatch("x", 1, 1, 1)
	m.ObserveEncode("x", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
