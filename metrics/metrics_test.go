package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AddBytesRead(10)
		m.AddFramesReceived(1)
		m.IncFramesSent()
		m.IncReadErrors()
		m.IncWriteErrors()
		m.AddGarbageResets(1)
		m.IncRouted("telemetry")
		m.IncDropped("short")
	})
}

func TestCounters(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)

	m.AddBytesRead(12)
	m.AddFramesReceived(2)
	m.IncWriteErrors()
	m.AddGarbageResets(0)
	m.IncRouted("telemetry")
	m.IncRouted("telemetry")
	m.IncDropped("short")

	assert.InDelta(t, 12, testutil.ToFloat64(m.BytesRead), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.FramesReceived), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.WriteErrors), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.GarbageResets), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Routed.WithLabelValues("telemetry")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Dropped.WithLabelValues("short")), 0)
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)
	m.IncFramesSent()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "gasmix_serial_frames_sent_total 1"))
}
