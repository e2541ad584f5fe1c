package dispatch

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabili207/gasmix-go/core/codec"
	"github.com/kabili207/gasmix-go/metrics"
)

type recordingUnit struct {
	ramps    []RampConfig
	autotune []AutotuneEcho
	pids     []PIDMemory
	statuses []UnitStatus
}

func (r *recordingUnit) HandleRampConfig(c RampConfig)     { r.ramps = append(r.ramps, c) }
func (r *recordingUnit) HandleAutotuneEcho(e AutotuneEcho) { r.autotune = append(r.autotune, e) }
func (r *recordingUnit) HandlePIDMemory(p PIDMemory)       { r.pids = append(r.pids, p) }
func (r *recordingUnit) HandleUnitStatus(s UnitStatus)     { r.statuses = append(r.statuses, s) }

type recordingStatus struct{ got []Telemetry }

func (r *recordingStatus) UpdateStatus(t Telemetry) { r.got = append(r.got, t) }

type recordingTelemetry struct{ got []Telemetry }

func (r *recordingTelemetry) RecordTelemetry(t Telemetry) { r.got = append(r.got, t) }

type panickingTelemetry struct{}

func (panickingTelemetry) RecordTelemetry(Telemetry) { panic("boom") }

func telemetryFrame(fields int) codec.Frame {
	parts := make([]string, fields)
	parts[0] = "5"
	for i := 1; i < fields; i++ {
		parts[i] = "1"
	}
	return codec.Frame(codec.FormatMessage(parts...))
}

func TestHandleFrame_Routes(t *testing.T) {
	ramp := "$;2;1;3;100;200;300;400;500;600;0;0;10;20;30;40;50;60;0;0;5;!"
	status := "$;2;" + strings.Repeat("1;", 7) + strings.Repeat("2;", 7) + "!"

	tests := []struct {
		name  string
		frame string
		want  Route
	}{
		{"autotune echo", "$;2;1;0;30;1;120;45;!", RouteAutotuneEcho},
		{"pid memory", "$;2;1;2;33;120;30;!", RoutePIDMemory},
		{"ramp config", ramp, RouteRampConfig},
		{"ramp length without marker", strings.Replace(ramp, "$;2;1;3;", "$;2;1;4;", 1), RouteUnrouted},
		{"status", status, RouteTemperatureStatus},
		{"group 2 other length", "$;2;1;2;3;!", RouteUnrouted},
		{"unknown group", "$;9;1;2;3;!", RouteUnrouted},
		{"too short", "$;2;9;!", RouteDropped},
		{"not delimited", "2;1;2;3", RouteDropped},
		{"telemetry 15 fields", telemetryFrame(15).String(), RouteDropped},
		{"telemetry 16 fields", telemetryFrame(16).String(), RouteTelemetry},
		{"telemetry 24 fields", telemetryFrame(24).String(), RouteTelemetry},
		{"bad unit", "$;2;7;2;33;120;30;!", RouteMalformed},
		{"non-numeric pid", "$;2;1;x;33;120;30;!", RouteMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(Config{})
			assert.Equal(t, tt.want, d.HandleFrame(codec.Frame(tt.frame)))
		})
	}
}

func TestAutotuneEchoNotPIDMemory(t *testing.T) {
	d := New(Config{})
	u := &recordingUnit{}
	d.SetUnitSink(1, u)

	d.HandleFrame(codec.Frame("$;2;1;0;30;1;120;45;!"))

	require.Len(t, u.autotune, 1)
	assert.Empty(t, u.pids)
	assert.Equal(t, 1, u.autotune[0].Unit)
	assert.Equal(t, []string{"0", "30", "1", "120", "45"}, u.autotune[0].Fields)
}

func TestPIDMemoryDecoding(t *testing.T) {
	d := New(Config{})
	u := &recordingUnit{}
	d.SetUnitSink(2, u)

	d.HandleFrame(codec.Frame("$;2;2;3;33;120;30;!"))

	require.Len(t, u.pids, 1)
	assert.Equal(t, PIDMemory{Unit: 2, Bank: 3, ProportionalBand: 3.3, Integral: 120, Derivative: 30}, u.pids[0])
}

func TestRampConfigDecoding(t *testing.T) {
	d := New(Config{})
	u := &recordingUnit{}
	d.SetUnitSink(1, u)

	d.HandleFrame(codec.Frame("$;2;1;3;100;200;300;400;500;600;0;0;10;20;30;40;50;60;0;0;5;!"))

	require.Len(t, u.ramps, 1)
	c := u.ramps[0]
	assert.Equal(t, 1, c.Unit)
	assert.Equal(t, [8]int{100, 200, 300, 400, 500, 600, 0, 0}, c.Setpoints)
	assert.Equal(t, [8]int{10, 20, 30, 40, 50, 60, 0, 0}, c.Times)
	assert.Equal(t, 5, c.StepLimit)
}

func TestStatusSplitsPerUnit(t *testing.T) {
	d := New(Config{})
	u1, u2 := &recordingUnit{}, &recordingUnit{}
	d.SetUnitSink(1, u1)
	d.SetUnitSink(2, u2)

	d.HandleFrame(codec.Frame("$;2;a;b;c;d;e;f;250.5;h;i;j;k;l;m;26;!"))

	require.Len(t, u1.statuses, 1)
	require.Len(t, u2.statuses, 1)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "250.5"}, u1.statuses[0].Fields)
	assert.Equal(t, []string{"h", "i", "j", "k", "l", "m", "26"}, u2.statuses[0].Fields)

	v, ok := u1.statuses[0].Float(6)
	require.True(t, ok)
	assert.InDelta(t, 250.5, v, 1e-9)
	_, ok = u1.statuses[0].Float(0)
	assert.False(t, ok)
	_, ok = u1.statuses[0].Float(7)
	assert.False(t, ok)
}

func TestUnitSinkRemoval(t *testing.T) {
	d := New(Config{})
	u := &recordingUnit{}
	d.SetUnitSink(1, u)
	d.SetUnitSink(1, nil)

	assert.Equal(t, RoutePIDMemory, d.HandleFrame(codec.Frame("$;2;1;3;33;120;30;!")))
	assert.Empty(t, u.pids)
}

func TestTelemetryFanOut(t *testing.T) {
	d := New(Config{})
	status := &recordingStatus{}
	logger := &recordingTelemetry{}
	d.SetStatusSink(status)
	d.SetTelemetrySink(logger)

	d.HandleFrame(telemetryFrame(16))

	require.Len(t, status.got, 1)
	require.Len(t, logger.got, 1)
	assert.Len(t, status.got[0].Fields, 16)
	assert.Equal(t, status.got[0].Fields, logger.got[0].Fields)

	// Sinks receive independent copies.
	status.got[0].Fields[1] = "changed"
	assert.Equal(t, "1", logger.got[0].Fields[1])

	v, ok := logger.got[0].Float(1)
	require.True(t, ok)
	assert.InDelta(t, 1, v, 0)
}

func TestTelemetryOneSinkAbsent(t *testing.T) {
	t.Run("only status", func(t *testing.T) {
		d := New(Config{})
		status := &recordingStatus{}
		d.SetStatusSink(status)
		assert.Equal(t, RouteTelemetry, d.HandleFrame(telemetryFrame(18)))
		assert.Len(t, status.got, 1)
	})

	t.Run("only telemetry", func(t *testing.T) {
		d := New(Config{})
		logger := &recordingTelemetry{}
		d.SetTelemetrySink(logger)
		assert.Equal(t, RouteTelemetry, d.HandleFrame(telemetryFrame(16)))
		assert.Len(t, logger.got, 1)
	})
}

func TestTelemetryLengthAnomaly(t *testing.T) {
	d := New(Config{})
	status := &recordingStatus{}
	logger := &recordingTelemetry{}
	d.SetStatusSink(status)
	d.SetTelemetrySink(logger)

	assert.Equal(t, RouteDropped, d.HandleFrame(telemetryFrame(15)))
	assert.Empty(t, status.got)
	assert.Empty(t, logger.got)
}

func TestPanickingSinkDoesNotBlockOther(t *testing.T) {
	d := New(Config{})
	status := &recordingStatus{}
	d.SetStatusSink(status)
	d.SetTelemetrySink(panickingTelemetry{})

	assert.NotPanics(t, func() {
		d.HandleFrame(telemetryFrame(16))
		d.HandleFrame(telemetryFrame(16))
	})
	assert.Len(t, status.got, 2)
}

func TestMetricsCounted(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	d := New(Config{Metrics: m})

	d.HandleFrame(telemetryFrame(16))
	d.HandleFrame(telemetryFrame(15))
	d.HandleFrame(codec.Frame("$;9;1;2;!"))
	d.HandleFrame(codec.Frame("$;1;!"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.Routed.WithLabelValues("telemetry")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Dropped.WithLabelValues("length")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Dropped.WithLabelValues("unrouted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Dropped.WithLabelValues("short")), 0)
}

func TestRouteString(t *testing.T) {
	assert.Equal(t, "telemetry", RouteTelemetry.String())
	assert.Equal(t, "autotune_echo", RouteAutotuneEcho.String())
	assert.Equal(t, "unknown", Route(99).String())
}
