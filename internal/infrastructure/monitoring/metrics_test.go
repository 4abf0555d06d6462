package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordEnvelopeSent("MAIN", "invocation")
		m.RecordEnvelopeDropped("MAIN", "foreign")
		m.RecordCall("MAIN", "success", time.Millisecond)
		m.AddPending(1)
		m.IncWSConnections()
		NewTimer(m, "MAIN").Stop("success")
	})
	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())
}

func TestInstancesDoNotShareRegistry(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordEnvelopeSent("ISOLATED", "announcement")
	a.RecordEnvelopeSent("ISOLATED", "announcement")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.EnvelopesSent.WithLabelValues("ISOLATED", "announcement")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.EnvelopesSent.WithLabelValues("ISOLATED", "announcement")))
}

func TestSnapshotTracksCallsAndConnections(t *testing.T) {
	m := NewMetrics()

	m.RecordCall("MAIN", "success", time.Millisecond)
	m.RecordCall("MAIN", "closed", time.Millisecond)
	m.IncWSConnections()
	m.IncWSConnections()
	m.DecWSConnections()
	m.SetRelayRooms(3)
	m.RecordRelayFrame("in")
	m.RecordRelayFrame("out")

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.CallsCompleted)
	assert.Equal(t, int64(1), snap.CallsFailed)
	assert.Equal(t, int64(1), snap.ActiveConnections)
	assert.Equal(t, int64(3), snap.ActiveRooms)
	assert.Equal(t, int64(1), snap.FramesRelayed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSConnections))
}

func TestPendingGauge(t *testing.T) {
	m := NewMetrics()
	m.AddPending(1)
	m.AddPending(1)
	m.AddPending(-1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingCalls))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/ping", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, int64(1), m.Snapshot().TotalErrors)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "terabithia_http_requests_total")
	assert.Contains(t, w.Body.String(), "terabithia_uptime_seconds")
}
