// Package panel is the top-level controller of the gas-mixing panel. It owns
// the link to the controller, the temperature units and the dispatcher, and
// exposes the operator intents the UI calls into.
//
// The UI thread drives Tick (or Run) on a short fixed period; Tick only
// drains frames already received by the link and never blocks on the device.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/gasmix-go/core/command"
	"github.com/kabili207/gasmix-go/core/dispatch"
	"github.com/kabili207/gasmix-go/device/omega"
	"github.com/kabili207/gasmix-go/metrics"
	"github.com/kabili207/gasmix-go/transport"
)

// DefaultPollPeriod is how often Run drains the inbound queue.
const DefaultPollPeriod = 50 * time.Millisecond

// Config holds the configuration for a Panel.
type Config struct {
	// Link carries commands and telemetry. Required.
	Link transport.Link
	// Dispatcher routes inbound messages. Created if nil.
	Dispatcher *dispatch.Dispatcher
	// PollPeriod is the Run tick period. Defaults to DefaultPollPeriod.
	PollPeriod time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Metrics is handed to a dispatcher created by New. May be nil.
	Metrics *metrics.Metrics
}

// Panel ties the link, dispatcher and units together.
type Panel struct {
	link       transport.Link
	dispatcher *dispatch.Dispatcher
	units      map[int]*omega.Unit
	period     time.Duration
	log        *slog.Logger

	mu     sync.Mutex
	valves map[int]command.Position
}

// New creates a panel with both temperature units in PID mode, stopped.
func New(cfg Config) (*Panel, error) {
	if cfg.Link == nil {
		return nil, errors.New("link is required")
	}
	if cfg.PollPeriod <= 0 {
		cfg.PollPeriod = DefaultPollPeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = dispatch.New(dispatch.Config{Logger: cfg.Logger, Metrics: cfg.Metrics})
	}

	p := &Panel{
		link:       cfg.Link,
		dispatcher: cfg.Dispatcher,
		units:      make(map[int]*omega.Unit, command.UnitCount),
		period:     cfg.PollPeriod,
		log:        cfg.Logger.WithGroup("panel"),
		valves:     make(map[int]command.Position, command.ValveCount),
	}

	for id := 1; id <= command.UnitCount; id++ {
		u, err := omega.New(omega.Config{
			ID:     id,
			Sender: cfg.Link,
			Mode:   command.ModePID,
			Logger: cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating unit %d: %w", id, err)
		}
		p.units[id] = u
		p.dispatcher.SetUnitSink(id, u)
	}

	return p, nil
}

// Link returns the panel's link.
func (p *Panel) Link() transport.Link {
	return p.link
}

// Unit returns a temperature unit by number.
func (p *Panel) Unit(id int) (*omega.Unit, error) {
	u, ok := p.units[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", command.ErrInvalidUnit, id)
	}
	return u, nil
}

// SetStatusSink registers the live-status telemetry consumer; nil removes it.
func (p *Panel) SetStatusSink(s dispatch.StatusSink) {
	p.dispatcher.SetStatusSink(s)
}

// SetTelemetrySink registers the logging/graphing telemetry consumer; nil
// removes it.
func (p *Panel) SetTelemetrySink(s dispatch.TelemetrySink) {
	p.dispatcher.SetTelemetrySink(s)
}

// Tick drains every pending frame and dispatches them in arrival order. It
// returns the number of frames handled.
func (p *Panel) Tick() int {
	frames := p.link.Poll()
	for _, f := range frames {
		p.dispatcher.HandleFrame(f)
	}
	return len(frames)
}

// Run calls Tick every poll period until ctx is done.
func (p *Panel) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Stop closes the link.
func (p *Panel) Stop() error {
	return p.link.Stop()
}

// EnterTemperatureScreen sends the identification ping.
func (p *Panel) EnterTemperatureScreen() error {
	return p.link.Send(command.Identify())
}

// SetFlow sets a mass flow controller's flow.
func (p *Panel) SetFlow(mfc int, flow float64) error {
	return p.send(command.Flow(mfc, flow))
}

// SetFlowWithFactor sets a mass flow controller's flow and gas factor.
func (p *Panel) SetFlowWithFactor(mfc int, flow, factor float64) error {
	return p.send(command.FlowWithFactor(mfc, flow, factor))
}

// SelectMode switches a unit between PID and ramp regulation. changed is
// false when the unit was already in that mode.
func (p *Panel) SelectMode(unit int, mode command.Mode) (changed bool, err error) {
	u, err := p.Unit(unit)
	if err != nil {
		return false, err
	}
	return u.SelectMode(mode)
}

// SetRunning starts or stops a unit. changed is false when the unit was
// already in that state.
func (p *Panel) SetRunning(unit int, running bool) (changed bool, err error) {
	u, err := p.Unit(unit)
	if err != nil {
		return false, err
	}
	return u.SetRunning(running)
}

// AutotuneLaunched reflects an externally started autotune as running.
func (p *Panel) AutotuneLaunched(unit int) error {
	u, err := p.Unit(unit)
	if err != nil {
		return err
	}
	u.AutotuneLaunched()
	return nil
}

// SetSetpoint writes a setpoint into a unit's memory bank.
func (p *Panel) SetSetpoint(unit int, setpoint float64, bank int) error {
	return p.send(command.Setpoint(unit, setpoint, bank))
}

// SetPIDParams writes a PID parameter set into a unit's memory bank.
func (p *Panel) SetPIDParams(unit, bank int, pid command.PID) error {
	return p.send(command.PIDParams(unit, bank, pid))
}

// StartAutotune launches autotuning and shows the unit as running.
func (p *Panel) StartAutotune(unit int, setpoint float64, bank int) error {
	u, err := p.Unit(unit)
	if err != nil {
		return err
	}
	msg, err := command.Autotune(unit, setpoint, bank)
	if err != nil {
		return err
	}
	if err := p.link.Send(msg); err != nil {
		return err
	}
	u.AutotuneLaunched()
	return nil
}

// UploadRamp sends a ramp program to a unit.
func (p *Panel) UploadRamp(unit int, prog command.RampProgram) error {
	return p.send(command.Ramp(unit, prog))
}

// QueryPID asks a unit to echo a PID memory bank.
func (p *Panel) QueryPID(unit, bank int) error {
	return p.send(command.QueryPID(unit, bank))
}

// QueryRamp asks a unit to echo its ramp program.
func (p *Panel) QueryRamp(unit int) error {
	return p.send(command.QueryRamp(unit))
}

// QuerySetpoint asks a unit to echo an autotuning setpoint memory.
func (p *Panel) QuerySetpoint(unit, bank int) error {
	return p.send(command.QuerySetpoint(unit, bank))
}

// SelectValve moves a selector valve to port A or B.
func (p *Panel) SelectValve(valve int, pos command.Position) error {
	if err := p.send(command.Valve(valve, pos)); err != nil {
		return err
	}
	p.mu.Lock()
	p.valves[valve] = pos
	p.mu.Unlock()
	return nil
}

// ValvePosition returns the last position commanded for a valve.
func (p *Panel) ValvePosition(valve int) (command.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.valves[valve]
	return pos, ok
}

// SetSafetyValve opens or closes the safety valve at a pressure in bar.
func (p *Panel) SetSafetyValve(open bool, bar float64) error {
	return p.send(command.SafetyValve(open, bar))
}

func (p *Panel) send(msg string, err error) error {
	if err != nil {
		return err
	}
	return p.link.Send(msg)
}
