// Package command encodes operator intents into the ASCII wire commands
// understood by the gas-mixing controller firmware.
//
// Every command is wrapped with codec.FormatMessage so the encoder and the
// framer always agree on the start, end and separator markers.
package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/kabili207/gasmix-go/core/codec"
)

// Command groups (first wire field).
const (
	GroupFlow        = "1"
	GroupTemperature = "2"
	GroupValve       = "3"
	GroupTelemetry   = "5"
)

// Temperature sub-commands.
const (
	subRampProgram  = "1"
	subParameters   = "2"
	subQuery        = "4"
	subModeChange   = "5"
	subRunControl   = "6"
	paramSetpoint   = "1"
	paramPID        = "2"
	paramAutotune   = "4"
	querySetpoint   = "2"
	queryPID        = "3"
	queryRamp       = "4"
	rampProgramCode = "3"
	identifyUnit    = "9"
)

const (
	// MaxSetpoint caps every temperature setpoint sent to a unit.
	MaxSetpoint = 600
	// MaxSafetyPressure caps the safety valve pressure, in bar.
	MaxSafetyPressure = 25.0
	// RampSteps is the number of setpoint/time pairs in a ramp program.
	RampSteps = 8
	// MaxStepLimit is the highest ramp step limit.
	MaxStepLimit = RampSteps - 1
	// MaxPIDBank is the highest PID memory bank (M0-M4).
	MaxPIDBank = 4
	// MaxAutotuneBank is the highest memory bank autotuning may write.
	MaxAutotuneBank = 3
	// MFCCount is the number of mass flow controllers.
	MFCCount = 4
	// UnitCount is the number of temperature controllers.
	UnitCount = 2
	// ValveCount is the number of A/B selector valves.
	ValveCount = 2
)

var (
	ErrInvalidUnit   = errors.New("invalid unit")
	ErrInvalidMFC    = errors.New("invalid flow controller")
	ErrInvalidValve  = errors.New("invalid valve")
	ErrInvalidBank   = errors.New("invalid memory bank")
	ErrOutOfRange    = errors.New("value out of range")
	ErrInvalidNumber = errors.New("invalid number")
)

// Mode is the regulation mode of a temperature unit.
type Mode int

const (
	ModePID Mode = iota
	ModeRamp
)

func (m Mode) String() string {
	switch m {
	case ModePID:
		return "pid"
	case ModeRamp:
		return "ramp"
	default:
		return "unknown"
	}
}

func (m Mode) code() string {
	if m == ModeRamp {
		return "1"
	}
	return "0"
}

// Position is the selected port of an A/B valve.
type Position string

const (
	PositionA Position = "A"
	PositionB Position = "B"
)

// ParsePosition accepts "A" or "B" in either case.
func ParsePosition(s string) (Position, error) {
	switch s {
	case "A", "a":
		return PositionA, nil
	case "B", "b":
		return PositionB, nil
	}
	return "", fmt.Errorf("%w: valve position %q", ErrOutOfRange, s)
}

func (p Position) code() string {
	if p == PositionB {
		return "2"
	}
	return "1"
}

// PID is a proportional/integral/derivative parameter set.
type PID struct {
	ProportionalBand float64
	Integral         int
	Derivative       int
}

// RampProgram is a setpoint-over-time program for one unit.
type RampProgram struct {
	Setpoints [RampSteps]float64
	Times     [RampSteps]int
	StepLimit int
}

// Identify returns the identification ping sent when the temperature screen
// is entered.
func Identify() string {
	return codec.FormatMessage(GroupTemperature, identifyUnit)
}

// Flow sets the flow of one mass flow controller.
func Flow(mfc int, flow float64) (string, error) {
	if err := checkMFC(mfc); err != nil {
		return "", err
	}
	if err := checkNonNegative("flow", flow); err != nil {
		return "", err
	}
	return codec.FormatMessage(GroupFlow, strconv.Itoa(mfc), formatFloat(flow)), nil
}

// FlowWithFactor sets the flow of one mass flow controller together with its
// gas correction factor.
func FlowWithFactor(mfc int, flow, factor float64) (string, error) {
	if err := checkMFC(mfc); err != nil {
		return "", err
	}
	if err := checkNonNegative("flow", flow); err != nil {
		return "", err
	}
	if err := checkNonNegative("factor", factor); err != nil {
		return "", err
	}
	return codec.FormatMessage(GroupFlow, strconv.Itoa(mfc), formatFloat(flow), formatFloat(factor)), nil
}

// ModeChange switches a unit between PID and ramp regulation.
func ModeChange(unit int, mode Mode) (string, error) {
	if err := checkUnit(unit); err != nil {
		return "", err
	}
	if mode != ModePID && mode != ModeRamp {
		return "", fmt.Errorf("%w: mode %d", ErrOutOfRange, mode)
	}
	return codec.FormatMessage(GroupTemperature, strconv.Itoa(unit), mode.code(), subModeChange), nil
}

// RunControl starts or stops regulation on a unit.
func RunControl(unit int, running bool) (string, error) {
	if err := checkUnit(unit); err != nil {
		return "", err
	}
	code := "0"
	if running {
		code = "1"
	}
	return codec.FormatMessage(GroupTemperature, strconv.Itoa(unit), code, subRunControl), nil
}

// Setpoint writes a setpoint into a unit's memory bank.
func Setpoint(unit int, setpoint float64, bank int) (string, error) {
	if err := checkUnit(unit); err != nil {
		return "", err
	}
	if err := checkBank(bank, MaxPIDBank); err != nil {
		return "", err
	}
	sp, err := ScaleSetpoint(setpoint)
	if err != nil {
		return "", err
	}
	return codec.FormatMessage(GroupTemperature, strconv.Itoa(unit), subParameters, paramSetpoint,
		strconv.Itoa(sp), strconv.Itoa(bank)), nil
}

// PIDParams writes a PID parameter set into a unit's memory bank.
func PIDParams(unit, bank int, pid PID) (string, error) {
	if err := checkUnit(unit); err != nil {
		return "", err
	}
	if err := checkBank(bank, MaxPIDBank); err != nil {
		return "", err
	}
	pb, err := ScaleProportionalBand(pid.ProportionalBand)
	if err != nil {
		return "", err
	}
	if pid.Integral < 0 || pid.Derivative < 0 {
		return "", fmt.Errorf("%w: negative integral or derivative time", ErrOutOfRange)
	}
	return codec.FormatMessage(GroupTemperature, strconv.Itoa(unit), subParameters, paramPID,
		strconv.Itoa(bank), strconv.Itoa(pb), strconv.Itoa(pid.Integral), strconv.Itoa(pid.Derivative)), nil
}

// Autotune launches the firmware's PID self-tuning toward setpoint, storing
// the result in bank.
func Autotune(unit int, setpoint float64, bank int) (string, error) {
	if err := checkUnit(unit); err != nil {
		return "", err
	}
	if err := checkBank(bank, MaxAutotuneBank); err != nil {
		return "", err
	}
	sp, err := ScaleSetpoint(setpoint)
	if err != nil {
		return "", err
	}
	return codec.FormatMessage(GroupTemperature, strconv.Itoa(unit), subParameters, paramAutotune,
		strconv.Itoa(sp), strconv.Itoa(bank)), nil
}

// Ramp uploads a ramp program to a unit.
func Ramp(unit int, prog RampProgram) (string, error) {
	if err := checkUnit(unit); err != nil {
		return "", err
	}
	if prog.StepLimit < 0 || prog.StepLimit > MaxStepLimit {
		return "", fmt.Errorf("%w: step limit %d", ErrOutOfRange, prog.StepLimit)
	}

	fields := make([]string, 0, 5+2*RampSteps+1)
	fields = append(fields, GroupTemperature, strconv.Itoa(unit), subRampProgram, rampProgramCode)
	for _, v := range prog.Setpoints {
		sp, err := ScaleSetpoint(v)
		if err != nil {
			return "", err
		}
		fields = append(fields, strconv.Itoa(sp))
	}
	for _, m := range prog.Times {
		if m < 0 {
			return "", fmt.Errorf("%w: negative ramp time %d", ErrOutOfRange, m)
		}
		fields = append(fields, strconv.Itoa(m))
	}
	fields = append(fields, strconv.Itoa(prog.StepLimit))
	return codec.FormatMessage(fields...), nil
}

// QueryPID asks a unit to echo the PID parameters of a memory bank.
func QueryPID(unit, bank int) (string, error) {
	if err := checkUnit(unit); err != nil {
		return "", err
	}
	if err := checkBank(bank, MaxPIDBank); err != nil {
		return "", err
	}
	return codec.FormatMessage(GroupTemperature, strconv.Itoa(unit), subQuery, queryPID, strconv.Itoa(bank)), nil
}

// QueryRamp asks a unit to echo its ramp program.
func QueryRamp(unit int) (string, error) {
	if err := checkUnit(unit); err != nil {
		return "", err
	}
	return codec.FormatMessage(GroupTemperature, strconv.Itoa(unit), subQuery, queryRamp), nil
}

// QuerySetpoint asks a unit to echo the autotuning setpoint memory of a bank.
func QuerySetpoint(unit, bank int) (string, error) {
	if err := checkUnit(unit); err != nil {
		return "", err
	}
	if err := checkBank(bank, MaxAutotuneBank); err != nil {
		return "", err
	}
	return codec.FormatMessage(GroupTemperature, strconv.Itoa(unit), subQuery, querySetpoint, strconv.Itoa(bank)), nil
}

// Valve selects port A or B of a selector valve.
func Valve(valve int, pos Position) (string, error) {
	if valve < 1 || valve > ValveCount {
		return "", fmt.Errorf("%w: %d", ErrInvalidValve, valve)
	}
	if pos != PositionA && pos != PositionB {
		return "", fmt.Errorf("%w: valve position %q", ErrOutOfRange, pos)
	}
	return codec.FormatMessage(GroupValve, strconv.Itoa(valve), pos.code()), nil
}

// SafetyValve opens or closes the safety valve at the given pressure, in bar.
func SafetyValve(open bool, bar float64) (string, error) {
	p, err := ScalePressure(bar)
	if err != nil {
		return "", err
	}
	state := "0"
	if open {
		state = "1"
	}
	return codec.FormatMessage(GroupValve, "2", state, strconv.Itoa(p)), nil
}

// ScaleSetpoint truncates a setpoint toward zero and caps it at MaxSetpoint.
// Negative setpoints are rejected.
func ScaleSetpoint(v float64) (int, error) {
	if math.IsNaN(v) || v < 0 {
		return 0, fmt.Errorf("%w: setpoint %v", ErrOutOfRange, v)
	}
	if v >= MaxSetpoint {
		return MaxSetpoint, nil
	}
	return int(math.Trunc(v)), nil
}

// ScaleProportionalBand converts a proportional band to tenths, rounded to
// the nearest integer.
func ScaleProportionalBand(v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("%w: proportional band %v", ErrOutOfRange, v)
	}
	return int(math.Round(v * 10)), nil
}

// ScalePressure caps a pressure at MaxSafetyPressure and converts it to
// tenths of a bar.
func ScalePressure(bar float64) (int, error) {
	if math.IsNaN(bar) || bar < 0 {
		return 0, fmt.Errorf("%w: pressure %v", ErrOutOfRange, bar)
	}
	bar = min(bar, MaxSafetyPressure)
	return int(math.Round(bar * 10)), nil
}

func checkUnit(unit int) error {
	if unit < 1 || unit > UnitCount {
		return fmt.Errorf("%w: %d", ErrInvalidUnit, unit)
	}
	return nil
}

func checkMFC(mfc int) error {
	if mfc < 1 || mfc > MFCCount {
		return fmt.Errorf("%w: %d", ErrInvalidMFC, mfc)
	}
	return nil
}

func checkBank(bank, limit int) error {
	if bank < 0 || bank > limit {
		return fmt.Errorf("%w: %d (0-%d)", ErrInvalidBank, bank, limit)
	}
	return nil
}

func checkNonNegative(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %s %v", ErrOutOfRange, name, v)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
