// Package dispatch decodes inbound controller messages and routes them to
// the subsystem that consumes them.
//
// Routing is keyed on the group selector and the total field count:
//
//	group 2, 20 fields, third field "3"  ramp configuration echo
//	group 2,  7 fields                   autotuning setpoint-memory echo
//	group 2, 15 fields                   combined dual-unit status
//	group 2,  6 fields                   PID memory echo
//	group 5, 16+ fields                  telemetry, fanned out to both sinks
//
// Anything else is logged and dropped.
package dispatch

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/kabili207/gasmix-go/core/codec"
	"github.com/kabili207/gasmix-go/core/command"
	"github.com/kabili207/gasmix-go/metrics"
)

const (
	rampConfigFields   = 20
	autotuneEchoFields = 7
	statusFields       = 15
	pidMemoryFields    = 6
	// MinTelemetryFields is the shortest valid telemetry broadcast.
	MinTelemetryFields = 16

	statusFieldsPerUnit = (statusFields - 1) / command.UnitCount
)

// Config holds the configuration for a Dispatcher.
type Config struct {
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Metrics records routing counters. May be nil.
	Metrics *metrics.Metrics
}

// Dispatcher routes messages to registered sinks. Sinks may be registered
// and cleared at any time; a missing sink simply does not receive its
// messages.
type Dispatcher struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	units     map[int]UnitSink
	status    StatusSink
	telemetry TelemetrySink
}

// New creates a dispatcher with no sinks.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		log:     cfg.Logger.WithGroup("dispatch"),
		metrics: cfg.Metrics,
		units:   make(map[int]UnitSink),
	}
}

// SetUnitSink registers the consumer for one temperature unit. A nil sink
// removes the registration.
func (d *Dispatcher) SetUnitSink(unit int, s UnitSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s == nil {
		delete(d.units, unit)
		return
	}
	d.units[unit] = s
}

// SetStatusSink registers the live-status telemetry consumer.
func (d *Dispatcher) SetStatusSink(s StatusSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = s
}

// SetTelemetrySink registers the logging/graphing telemetry consumer.
func (d *Dispatcher) SetTelemetrySink(s TelemetrySink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.telemetry = s
}

// HandleFrame parses a frame and dispatches it. Undelimited or short
// messages are dropped.
func (d *Dispatcher) HandleFrame(f codec.Frame) Route {
	msg, err := codec.ParseMessage(f)
	if err != nil {
		d.log.Debug("dropping frame", "frame", f.String(), "error", err)
		d.metrics.IncDropped("short")
		return RouteDropped
	}
	return d.Handle(msg)
}

// Handle routes a parsed message and reports where it went.
func (d *Dispatcher) Handle(msg codec.Message) Route {
	if len(msg) < codec.MinMessageFields {
		d.metrics.IncDropped("short")
		return RouteDropped
	}

	route, err := d.route(msg)
	if err != nil {
		d.log.Debug("malformed message", "message", msg.String(), "error", err)
		d.metrics.IncDropped("malformed")
		return RouteMalformed
	}

	switch route {
	case RouteUnrouted:
		d.log.Debug("unrouted message", "group", msg.Group(), "fields", len(msg))
		d.metrics.IncDropped("unrouted")
	case RouteDropped:
		d.metrics.IncDropped("length")
	default:
		d.metrics.IncRouted(route.String())
	}
	return route
}

func (d *Dispatcher) route(msg codec.Message) (Route, error) {
	switch msg.Group() {
	case command.GroupTemperature:
		switch {
		case len(msg) == rampConfigFields && msg.Field(2) == "3":
			return RouteRampConfig, d.handleRampConfig(msg)
		case len(msg) == autotuneEchoFields:
			return RouteAutotuneEcho, d.handleAutotuneEcho(msg)
		case len(msg) == statusFields:
			return RouteTemperatureStatus, d.handleStatus(msg)
		case len(msg) == pidMemoryFields:
			return RoutePIDMemory, d.handlePIDMemory(msg)
		}
	case command.GroupTelemetry:
		if len(msg) < MinTelemetryFields {
			d.log.Warn("telemetry length anomaly", "fields", len(msg), "want_at_least", MinTelemetryFields)
			return RouteDropped, nil
		}
		d.handleTelemetry(msg)
		return RouteTelemetry, nil
	}
	return RouteUnrouted, nil
}

func (d *Dispatcher) handleRampConfig(msg codec.Message) error {
	unit, err := parseUnit(msg)
	if err != nil {
		return err
	}
	c := RampConfig{Unit: unit}
	for i := range command.RampSteps {
		if c.Setpoints[i], err = parseInt(msg, 3+i); err != nil {
			return err
		}
		if c.Times[i], err = parseInt(msg, 3+command.RampSteps+i); err != nil {
			return err
		}
	}
	if c.StepLimit, err = parseInt(msg, 3+2*command.RampSteps); err != nil {
		return err
	}

	if s := d.unitSink(unit); s != nil {
		d.deliver("ramp config", func() { s.HandleRampConfig(c) })
	}
	return nil
}

func (d *Dispatcher) handleAutotuneEcho(msg codec.Message) error {
	unit, err := parseUnit(msg)
	if err != nil {
		return err
	}
	e := AutotuneEcho{Unit: unit, Fields: append([]string(nil), msg[2:]...)}

	if s := d.unitSink(unit); s != nil {
		d.deliver("autotune echo", func() { s.HandleAutotuneEcho(e) })
	}
	return nil
}

func (d *Dispatcher) handleStatus(msg codec.Message) error {
	for i := range command.UnitCount {
		unit := i + 1
		off := 1 + i*statusFieldsPerUnit
		st := UnitStatus{
			Unit:   unit,
			Fields: append([]string(nil), msg[off:off+statusFieldsPerUnit]...),
		}
		if s := d.unitSink(unit); s != nil {
			d.deliver("unit status", func() { s.HandleUnitStatus(st) })
		}
	}
	return nil
}

func (d *Dispatcher) handlePIDMemory(msg codec.Message) error {
	unit, err := parseUnit(msg)
	if err != nil {
		return err
	}
	p := PIDMemory{Unit: unit}
	if p.Bank, err = msg.Int(2); err != nil {
		return err
	}
	pb, err := msg.Float(3)
	if err != nil {
		return err
	}
	p.ProportionalBand = pb / 10
	if p.Integral, err = parseInt(msg, 4); err != nil {
		return err
	}
	if p.Derivative, err = parseInt(msg, 5); err != nil {
		return err
	}

	if s := d.unitSink(unit); s != nil {
		d.deliver("pid memory", func() { s.HandlePIDMemory(p) })
	}
	return nil
}

// handleTelemetry fans a broadcast out to both sinks independently. Each
// sink gets its own copy of the fields.
func (d *Dispatcher) handleTelemetry(msg codec.Message) {
	d.mu.RLock()
	status, telemetry := d.status, d.telemetry
	d.mu.RUnlock()

	if status != nil {
		t := Telemetry{Fields: append(codec.Message(nil), msg...)}
		d.deliver("status sink", func() { status.UpdateStatus(t) })
	}
	if telemetry != nil {
		t := Telemetry{Fields: append(codec.Message(nil), msg...)}
		d.deliver("telemetry sink", func() { telemetry.RecordTelemetry(t) })
	}
}

func (d *Dispatcher) unitSink(unit int) UnitSink {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.units[unit]
}

// deliver runs a sink callback, logging instead of propagating a panic so a
// faulty consumer cannot take down the polling step.
func (d *Dispatcher) deliver(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("sink panicked", "sink", what, "panic", r)
		}
	}()
	fn()
}

func parseUnit(msg codec.Message) (int, error) {
	unit, err := msg.Int(1)
	if err != nil {
		return 0, fmt.Errorf("unit: %w", err)
	}
	if unit < 1 || unit > command.UnitCount {
		return 0, fmt.Errorf("%w: %d", command.ErrInvalidUnit, unit)
	}
	return unit, nil
}

// parseInt accepts integers and decimals, truncating the latter.
func parseInt(msg codec.Message, i int) (int, error) {
	if n, err := msg.Int(i); err == nil {
		return n, nil
	}
	v, err := msg.Float(i)
	if err != nil {
		return 0, fmt.Errorf("field %d: %w", i, err)
	}
	return int(math.Trunc(v)), nil
}
