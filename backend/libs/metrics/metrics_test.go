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

func TestOperationCounter(t *testing.T) {
	m := New("test")
	m.Operation("create", "ok")
	m.Operation("create", "ok")
	m.Operation("create", "conflict")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create", "conflict")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New("chargeslot")
	m.ObserveHTTP("/api/v1/slots/search", http.MethodGet, 200, 15*time.Millisecond)
	m.SubscriberConnected(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "chargeslot_http_requests_total"))
	assert.True(t, strings.Contains(body, "chargeslot_realtime_subscribers 1"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Operation("cancel", "ok")
	m.ObserveHTTP("/", http.MethodGet, 200, time.Millisecond)
	m.SubscriberConnected(1)
	m.MessageDropped()
}
