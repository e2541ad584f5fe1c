package panel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/kabili207/gasmix-go/core/command"
	"github.com/kabili207/gasmix-go/transport"
)

const consoleHelp = `commands:
  flow <mfc> <value> [factor]
  mode <unit> pid|ramp
  run <unit> on|off
  setpoint <unit> <value> <bank>
  pid <unit> <bank> <pb> <ti> <td>
  autotune <unit> <setpoint> <bank>
  ramp <unit> <sp1..sp8> <t1..t8> <limit>
  query <unit> pid|ramp|setpoint [bank]
  valve <1|2> A|B
  safety on|off <bar>
  ping
  status`

// RunConsole reads operator commands line by line from r and writes each
// reply to w until r is exhausted or ctx is done.
func (p *Panel) RunConsole(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if reply := p.Execute(scanner.Text()); reply != "" {
			fmt.Fprintln(w, reply)
		}
	}
	return scanner.Err()
}

// Execute runs one console command and returns the reply text. Returns ""
// for an empty line. Invalid numbers are rejected before anything is sent.
func (p *Panel) Execute(line string) string {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return ""
	}

	var err error
	switch parts[0] {
	case "flow":
		err = p.cliFlow(parts[1:])
	case "mode":
		err = p.cliMode(parts[1:])
	case "run":
		err = p.cliRun(parts[1:])
	case "setpoint":
		err = p.cliSetpoint(parts[1:])
	case "pid":
		err = p.cliPID(parts[1:])
	case "autotune":
		err = p.cliAutotune(parts[1:])
	case "ramp":
		err = p.cliRamp(parts[1:])
	case "query":
		err = p.cliQuery(parts[1:])
	case "valve":
		err = p.cliValve(parts[1:])
	case "safety":
		err = p.cliSafety(parts[1:])
	case "ping":
		err = p.EnterTemperatureScreen()
	case "status":
		return p.cliStatus()
	case "help":
		return consoleHelp
	default:
		return "Unknown command"
	}

	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, transport.ErrNotConnected):
		return "OK (no serial link, command discarded)"
	default:
		return "Error: " + err.Error()
	}
}

var errUsage = errors.New("wrong number of arguments")

func usage(n int, args []string) error {
	if len(args) != n {
		return fmt.Errorf("%w: want %d, got %d", errUsage, n, len(args))
	}
	return nil
}

func (p *Panel) cliFlow(args []string) error {
	if len(args) != 2 && len(args) != 3 {
		return fmt.Errorf("%w: want 2 or 3, got %d", errUsage, len(args))
	}
	mfc, err := command.ParseInt(args[0])
	if err != nil {
		return err
	}
	flow, err := command.ParseNumber(args[1])
	if err != nil {
		return err
	}
	if len(args) == 2 {
		return p.SetFlow(mfc, flow)
	}
	factor, err := command.ParseNumber(args[2])
	if err != nil {
		return err
	}
	return p.SetFlowWithFactor(mfc, flow, factor)
}

func (p *Panel) cliMode(args []string) error {
	if err := usage(2, args); err != nil {
		return err
	}
	unit, err := command.ParseInt(args[0])
	if err != nil {
		return err
	}
	var mode command.Mode
	switch strings.ToLower(args[1]) {
	case "pid":
		mode = command.ModePID
	case "ramp":
		mode = command.ModeRamp
	default:
		return fmt.Errorf("%w: mode %q", command.ErrOutOfRange, args[1])
	}
	_, err = p.SelectMode(unit, mode)
	return err
}

func (p *Panel) cliRun(args []string) error {
	if err := usage(2, args); err != nil {
		return err
	}
	unit, err := command.ParseInt(args[0])
	if err != nil {
		return err
	}
	on, err := parseOnOff(args[1])
	if err != nil {
		return err
	}
	_, err = p.SetRunning(unit, on)
	return err
}

func (p *Panel) cliSetpoint(args []string) error {
	if err := usage(3, args); err != nil {
		return err
	}
	unit, err := command.ParseInt(args[0])
	if err != nil {
		return err
	}
	sp, err := command.ParseNumber(args[1])
	if err != nil {
		return err
	}
	bank, err := command.ParseInt(args[2])
	if err != nil {
		return err
	}
	return p.SetSetpoint(unit, sp, bank)
}

func (p *Panel) cliPID(args []string) error {
	if err := usage(5, args); err != nil {
		return err
	}
	ints, err := parseInts(args[0], args[1], args[3], args[4])
	if err != nil {
		return err
	}
	pb, err := command.ParseNumber(args[2])
	if err != nil {
		return err
	}
	return p.SetPIDParams(ints[0], ints[1], command.PID{
		ProportionalBand: pb,
		Integral:         ints[2],
		Derivative:       ints[3],
	})
}

func (p *Panel) cliAutotune(args []string) error {
	if err := usage(3, args); err != nil {
		return err
	}
	unit, err := command.ParseInt(args[0])
	if err != nil {
		return err
	}
	sp, err := command.ParseNumber(args[1])
	if err != nil {
		return err
	}
	bank, err := command.ParseInt(args[2])
	if err != nil {
		return err
	}
	return p.StartAutotune(unit, sp, bank)
}

func (p *Panel) cliRamp(args []string) error {
	if err := usage(2+2*command.RampSteps, args); err != nil {
		return err
	}
	unit, err := command.ParseInt(args[0])
	if err != nil {
		return err
	}

	var prog command.RampProgram
	for i := range command.RampSteps {
		if prog.Setpoints[i], err = command.ParseNumber(args[1+i]); err != nil {
			return err
		}
		if prog.Times[i], err = command.ParseInt(args[1+command.RampSteps+i]); err != nil {
			return err
		}
	}
	if prog.StepLimit, err = command.ParseInt(args[len(args)-1]); err != nil {
		return err
	}
	return p.UploadRamp(unit, prog)
}

func (p *Panel) cliQuery(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: want at least 2, got %d", errUsage, len(args))
	}
	unit, err := command.ParseInt(args[0])
	if err != nil {
		return err
	}

	bank := 0
	if len(args) > 2 {
		if bank, err = command.ParseInt(args[2]); err != nil {
			return err
		}
	}

	switch args[1] {
	case "pid":
		return p.QueryPID(unit, bank)
	case "ramp":
		return p.QueryRamp(unit)
	case "setpoint":
		return p.QuerySetpoint(unit, bank)
	}
	return fmt.Errorf("%w: query %q", command.ErrOutOfRange, args[1])
}

func (p *Panel) cliValve(args []string) error {
	if err := usage(2, args); err != nil {
		return err
	}
	valve, err := command.ParseInt(args[0])
	if err != nil {
		return err
	}
	pos, err := command.ParsePosition(args[1])
	if err != nil {
		return err
	}
	return p.SelectValve(valve, pos)
}

func (p *Panel) cliSafety(args []string) error {
	if err := usage(2, args); err != nil {
		return err
	}
	open, err := parseOnOff(args[0])
	if err != nil {
		return err
	}
	bar, err := command.ParseNumber(args[1])
	if err != nil {
		return err
	}
	return p.SetSafetyValve(open, bar)
}

func (p *Panel) cliStatus() string {
	var b strings.Builder
	fmt.Fprintf(&b, "link: %s (%s)", p.link.Mode(), p.link.State())

	ids := make([]int, 0, len(p.units))
	for id := range p.units {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		s := p.units[id].Snapshot()
		run := "stopped"
		if s.Running {
			run = "running"
		}
		fmt.Fprintf(&b, "\nunit %d: %s, %s", id, s.Mode, run)
		if s.Status != nil {
			fmt.Fprintf(&b, ", status %s", strings.Join(s.Status.Fields, " "))
		}
	}

	for valve := 1; valve <= command.ValveCount; valve++ {
		if pos, ok := p.ValvePosition(valve); ok {
			fmt.Fprintf(&b, "\nvalve %d: %s", valve, pos)
		}
	}
	return b.String()
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "start":
		return true, nil
	case "off", "0", "stop":
		return false, nil
	}
	return false, fmt.Errorf("%w: expected on or off, got %q", command.ErrOutOfRange, s)
}

func parseInts(ss ...string) ([]int, error) {
	out := make([]int, len(ss))
	for i, s := range ss {
		v, err := command.ParseInt(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
