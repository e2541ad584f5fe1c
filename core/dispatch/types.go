package dispatch

import (
	"strconv"

	"github.com/kabili207/gasmix-go/core/codec"
	"github.com/kabili207/gasmix-go/core/command"
)

// StatusSink receives process-variable telemetry for live display.
type StatusSink interface {
	UpdateStatus(t Telemetry)
}

// TelemetrySink receives process-variable telemetry for logging and
// graphing. It owns its persistence format.
type TelemetrySink interface {
	RecordTelemetry(t Telemetry)
}

// UnitSink receives the echoes and status of one temperature unit.
type UnitSink interface {
	HandleRampConfig(c RampConfig)
	HandleAutotuneEcho(e AutotuneEcho)
	HandlePIDMemory(p PIDMemory)
	HandleUnitStatus(s UnitStatus)
}

// Telemetry is a process-variable broadcast (group 5). Fields holds the
// complete field sequence, group selector included.
type Telemetry struct {
	Fields codec.Message
}

// Float returns field i as a number. ok is false when the field is missing
// or not numeric.
func (t Telemetry) Float(i int) (v float64, ok bool) {
	v, err := t.Fields.Float(i)
	return v, err == nil
}

// RampConfig is a unit's echo of its ramp program.
type RampConfig struct {
	Unit      int
	Setpoints [command.RampSteps]int
	Times     [command.RampSteps]int
	StepLimit int
}

// AutotuneEcho is a unit's echo of its autotuning setpoint memory. Fields
// holds everything after the unit number.
type AutotuneEcho struct {
	Unit   int
	Fields []string
}

// PIDMemory is a unit's echo of one PID memory bank.
type PIDMemory struct {
	Unit             int
	Bank             int
	ProportionalBand float64
	Integral         int
	Derivative       int
}

// UnitStatus is one unit's half of the combined temperature status message.
type UnitStatus struct {
	Unit   int
	Fields []string
}

// Float returns status field i as a number.
func (s UnitStatus) Float(i int) (v float64, ok bool) {
	if i < 0 || i >= len(s.Fields) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s.Fields[i], 64)
	return v, err == nil
}

// Route identifies where the dispatcher sent a message.
type Route int

const (
	RouteDropped Route = iota
	RouteUnrouted
	RouteMalformed
	RouteRampConfig
	RouteAutotuneEcho
	RouteTemperatureStatus
	RoutePIDMemory
	RouteTelemetry
)

func (r Route) String() string {
	switch r {
	case RouteDropped:
		return "dropped"
	case RouteUnrouted:
		return "unrouted"
	case RouteMalformed:
		return "malformed"
	case RouteRampConfig:
		return "ramp_config"
	case RouteAutotuneEcho:
		return "autotune_echo"
	case RouteTemperatureStatus:
		return "temperature_status"
	case RoutePIDMemory:
		return "pid_memory"
	case RouteTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}
