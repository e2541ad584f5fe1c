// Package omega models one temperature controller unit: its regulation mode,
// its run state, and the last values it echoed back.
package omega

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kabili207/gasmix-go/core/command"
	"github.com/kabili207/gasmix-go/core/dispatch"
)

// Compile-time interface check.
var _ dispatch.UnitSink = (*Unit)(nil)

// Sender transmits an encoded command.
type Sender interface {
	Send(msg string) error
}

// Config holds the configuration for a Unit.
type Config struct {
	// ID is the unit number, 1 or 2.
	ID int
	// Sender carries the unit's commands to the controller.
	Sender Sender
	// Mode is the regulation mode shown when the unit is created. No
	// command is sent for it.
	Mode command.Mode
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Snapshot is a point-in-time copy of a unit's state.
type Snapshot struct {
	ID       int
	Mode     command.Mode
	Running  bool
	Status   *dispatch.UnitStatus
	Ramp     *dispatch.RampConfig
	Autotune *dispatch.AutotuneEcho
	PID      map[int]dispatch.PIDMemory
}

// Unit tracks one temperature controller. Mode and run state change only
// through its methods, which send a command exactly once per real change.
type Unit struct {
	id     int
	sender Sender
	log    *slog.Logger

	// sendMu orders commands on the link the same way as the state
	// changes they announce.
	sendMu sync.Mutex

	mu       sync.Mutex
	mode     command.Mode
	running  bool
	status   *dispatch.UnitStatus
	ramp     *dispatch.RampConfig
	autotune *dispatch.AutotuneEcho
	pid      map[int]dispatch.PIDMemory
}

// New creates a stopped unit in cfg.Mode.
func New(cfg Config) (*Unit, error) {
	if cfg.ID < 1 || cfg.ID > command.UnitCount {
		return nil, fmt.Errorf("%w: %d", command.ErrInvalidUnit, cfg.ID)
	}
	if cfg.Sender == nil {
		return nil, errors.New("sender is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Unit{
		id:     cfg.ID,
		sender: cfg.Sender,
		log:    cfg.Logger.WithGroup("omega").With("unit", cfg.ID),
		mode:   cfg.Mode,
		pid:    make(map[int]dispatch.PIDMemory),
	}, nil
}

// ID returns the unit number.
func (u *Unit) ID() int {
	return u.id
}

// Mode returns the selected regulation mode.
func (u *Unit) Mode() command.Mode {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.mode
}

// Running reports whether regulation is started.
func (u *Unit) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// SelectMode switches the regulation mode. Selecting the current mode is a
// no-op and sends nothing. changed reports whether a command was issued.
// The new mode is kept even if the send fails.
func (u *Unit) SelectMode(mode command.Mode) (changed bool, err error) {
	msg, err := command.ModeChange(u.id, mode)
	if err != nil {
		return false, err
	}

	u.sendMu.Lock()
	defer u.sendMu.Unlock()

	u.mu.Lock()
	if u.mode == mode {
		u.mu.Unlock()
		return false, nil
	}
	u.mode = mode
	u.mu.Unlock()

	u.log.Info("mode changed", "mode", mode)
	if err := u.sender.Send(msg); err != nil {
		return true, fmt.Errorf("sending mode change: %w", err)
	}
	return true, nil
}

// SetRunning starts or stops regulation. Requesting the current state is a
// no-op. changed reports whether a command was issued.
func (u *Unit) SetRunning(running bool) (changed bool, err error) {
	msg, err := command.RunControl(u.id, running)
	if err != nil {
		return false, err
	}

	u.sendMu.Lock()
	defer u.sendMu.Unlock()

	u.mu.Lock()
	if u.running == running {
		u.mu.Unlock()
		return false, nil
	}
	u.running = running
	u.mu.Unlock()

	u.log.Info("run state changed", "running", running)
	if err := u.sender.Send(msg); err != nil {
		return true, fmt.Errorf("sending run control: %w", err)
	}
	return true, nil
}

// AutotuneLaunched marks the unit as running because the firmware started
// autotuning. No run command is sent.
func (u *Unit) AutotuneLaunched() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.running = true
}

// HandleRampConfig stores the unit's ramp program echo.
func (u *Unit) HandleRampConfig(c dispatch.RampConfig) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ramp = &c
}

// HandleAutotuneEcho stores the unit's autotuning memory echo.
func (u *Unit) HandleAutotuneEcho(e dispatch.AutotuneEcho) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.autotune = &e
}

// HandlePIDMemory stores one PID bank echo.
func (u *Unit) HandlePIDMemory(p dispatch.PIDMemory) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pid[p.Bank] = p
}

// HandleUnitStatus stores the unit's latest status.
func (u *Unit) HandleUnitStatus(s dispatch.UnitStatus) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = &s
}

// Snapshot returns a copy of the unit's state.
func (u *Unit) Snapshot() Snapshot {
	u.mu.Lock()
	defer u.mu.Unlock()

	s := Snapshot{
		ID:      u.id,
		Mode:    u.mode,
		Running: u.running,
		PID:     make(map[int]dispatch.PIDMemory, len(u.pid)),
	}
	if u.status != nil {
		st := *u.status
		s.Status = &st
	}
	if u.ramp != nil {
		r := *u.ramp
		s.Ramp = &r
	}
	if u.autotune != nil {
		a := *u.autotune
		s.Autotune = &a
	}
	for k, v := range u.pid {
		s.PID[k] = v
	}
	return s
}
