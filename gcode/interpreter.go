// Interpreter drives a Toolhead (and, where rails are configured, a
// Homer and the shaping front ends) from parsed G-code commands:
// Execute/executeG/executeM/executeT dispatch to doMove/doHome/
// doSetPosition for real look-ahead moves and drip-mode homing against
// the Toolhead, plus a Klipper-style extended command surface
// (SET_VELOCITY_LIMIT, SET_INPUT_SHAPER, SET_SMOOTH_AXIS, SET_SCURVE)
// alongside plain G0/G1/G28/G92.
package gcode

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"motioncore/homing"
	"motioncore/machine"
	"motioncore/movequeue"
	"motioncore/shaping"
	"motioncore/toolhead"
)

var (
	ErrUnknownCommand = errors.New("gcode: unknown command")
	ErrNoHomer        = errors.New("gcode: no homing rails configured")
)

// Interpreter is the mutable session driving one Toolhead: modal
// positioning state (G90/G91/M82/M83), the optional homing rig, and
// whichever shaping front ends are currently attached.
type Interpreter struct {
	log   *zap.SugaredLogger
	cfg   *machine.MachineConfig
	th    *toolhead.Toolhead
	homer *homing.Homer
	rails map[int]homing.RailSpec // by machine.Axis*

	state machine.MachineState

	shaper   *shaping.InputShaper
	smoother *shaping.SmoothAxis
}

// New constructs an Interpreter. homer and rails may be nil/empty if
// this session has no endstops configured (e.g. a bench test rig);
// G28 then returns ErrNoHomer.
func New(cfg *machine.MachineConfig, th *toolhead.Toolhead, homer *homing.Homer, rails []homing.RailSpec, log *zap.SugaredLogger) *Interpreter {
	if log == nil {
		dev, _ := zap.NewDevelopment()
		log = dev.Sugar()
	}
	byAxis := make(map[int]homing.RailSpec, len(rails))
	for _, r := range rails {
		byAxis[r.Axis] = r
	}
	return &Interpreter{
		cfg: cfg, th: th, homer: homer, rails: byAxis, log: log,
		state: machine.MachineState{AbsoluteMode: true, FeedRate: 50},
	}
}

// Execute dispatches one parsed command.
func (in *Interpreter) Execute(cmd *machine.GCodeCommand) error {
	if cmd.Name != "" {
		return in.executeExtended(cmd)
	}
	switch cmd.Type {
	case 'G':
		return in.executeG(cmd)
	case 'M':
		return in.executeM(cmd)
	case 'T':
		return in.executeT(cmd)
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, string(cmd.Type))
}

func (in *Interpreter) executeG(cmd *machine.GCodeCommand) error {
	switch cmd.Number {
	case 0, 1:
		return in.doMove(cmd)
	case 4:
		return in.doDwell(cmd)
	case 28:
		return in.doHome(cmd)
	case 90:
		in.state.AbsoluteMode = true
		return nil
	case 91:
		in.state.AbsoluteMode = false
		return nil
	case 92:
		return in.doSetPosition(cmd)
	}
	return fmt.Errorf("%w: G%d", ErrUnknownCommand, cmd.Number)
}

func (in *Interpreter) executeM(cmd *machine.GCodeCommand) error {
	switch cmd.Number {
	case 82:
		in.state.ExtrudeMode = false
		return nil
	case 83:
		in.state.ExtrudeMode = true
		return nil
	case 104, 109, 140, 190:
		// No heater model lives in this core: the scheduler's job ends at
		// motion. Logged so a console user sees the command was accepted
		// rather than silently dropped.
		in.log.Infow("temperature command has no effect in this core", "mcode", cmd.Number)
		return nil
	case 105:
		in.log.Infow("temperature report unavailable", "mcode", cmd.Number)
		return nil
	case 112:
		in.th.EmergencyStop()
		in.log.Warn("emergency stop: M112 received")
		return nil
	case 114:
		pos := in.th.GetPosition()
		in.log.Infow("position report", "x", pos.X(), "y", pos.Y(), "z", pos.Z(), "e", pos.E())
		return nil
	case 204:
		if cmd.HasParameter('S') {
			in.th.M204(cmd.GetParameter('S', 0))
		}
		return nil
	}
	return fmt.Errorf("%w: M%d", ErrUnknownCommand, cmd.Number)
}

func (in *Interpreter) executeT(cmd *machine.GCodeCommand) error {
	in.log.Infow("tool change has no effect in this core (single-extruder)", "tool", cmd.Number)
	return nil
}

// doMove implements G0/G1: build the target position from the current
// modal state (absolute or relative for each axis independently of
// extrude mode, following RepRap convention) and queue it.
func (in *Interpreter) doMove(cmd *machine.GCodeCommand) error {
	target := in.th.GetPosition()
	letters := []byte{'X', 'Y', 'Z', 'E'}
	for i, letter := range letters {
		if !cmd.HasParameter(letter) {
			continue
		}
		v := cmd.GetParameter(letter, 0)
		relative := !in.state.AbsoluteMode
		if i == machine.AxisE {
			relative = in.state.ExtrudeMode
		}
		if relative {
			target[i] += v
		} else {
			target[i] = v
		}
	}
	if cmd.HasParameter('F') {
		in.state.FeedRate = cmd.GetParameter('F', in.state.FeedRate) / 60.0 // mm/min -> mm/s
	}
	return in.th.Move(target, in.state.FeedRate)
}

// doDwell implements G4: P<ms> or S<seconds>.
func (in *Interpreter) doDwell(cmd *machine.GCodeCommand) error {
	delay := 0.0
	if cmd.HasParameter('P') {
		delay = cmd.GetParameter('P', 0) / 1000.0
	} else if cmd.HasParameter('S') {
		delay = cmd.GetParameter('S', 0)
	}
	if delay <= 0 {
		return nil
	}
	return in.th.Dwell(delay)
}

// doHome implements G28: home whichever of X/Y/Z were named, or every
// configured rail if none were (bare "G28"), always in X, Y, Z order.
func (in *Interpreter) doHome(cmd *machine.GCodeCommand) error {
	if in.homer == nil || len(in.rails) == 0 {
		return ErrNoHomer
	}
	var axes []int
	for i, letter := range []byte{'X', 'Y', 'Z'} {
		if cmd.HasParameter(letter) {
			axes = append(axes, i)
		}
	}
	if len(axes) == 0 {
		for axis := 0; axis < 3; axis++ {
			if _, ok := in.rails[axis]; ok {
				axes = append(axes, axis)
			}
		}
	}
	var rails []homing.RailSpec
	for _, axis := range axes {
		r, ok := in.rails[axis]
		if !ok {
			return fmt.Errorf("gcode: no rail configured for axis %d", axis)
		}
		rails = append(rails, r)
	}
	id, err := in.homer.HomeRails(rails)
	if err != nil {
		in.log.Errorw("homing failed", "session", id, "error", err)
		return err
	}
	in.log.Infow("homing complete", "session", id, "axes", axes)
	return nil
}

// doSetPosition implements G92: redefine the current position without
// commanding any motion, clearing junction continuity exactly as a
// real toolhead.set_position call would.
func (in *Interpreter) doSetPosition(cmd *machine.GCodeCommand) error {
	pos := in.th.GetPosition()
	for i, letter := range []byte{'X', 'Y', 'Z', 'E'} {
		if cmd.HasParameter(letter) {
			pos[i] = cmd.GetParameter(letter, 0)
		}
	}
	in.th.SetPosition(pos, nil)
	return nil
}

// executeExtended dispatches the Klipper-style named commands
// alongside classic G/M codes.
func (in *Interpreter) executeExtended(cmd *machine.GCodeCommand) error {
	switch cmd.Name {
	case "SET_VELOCITY_LIMIT":
		scv := cmd.GetNamedParameter("SQUARE_CORNER_VELOCITY", -1)
		in.th.SetVelocityLimit(
			cmd.GetNamedParameter("VELOCITY", 0),
			cmd.GetNamedParameter("ACCEL", 0),
			cmd.GetNamedParameter("ACCEL_TO_DECEL", 0),
			scv,
		)
		return nil
	case "SET_INPUT_SHAPER":
		return in.doSetInputShaper(cmd)
	case "SET_SMOOTH_AXIS":
		return in.doSetSmoothAxis(cmd)
	case "SET_SCURVE":
		return in.doSetSCurve(cmd)
	}
	return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
}

func (in *Interpreter) doSetInputShaper(cmd *machine.GCodeCommand) error {
	cfg := machine.InputShaperConfig{
		Type:          cmd.GetStringParameter("TYPE", "zvd"),
		DampingRatioX: cmd.GetNamedParameter("DAMPING_RATIO_X", 0.1),
		DampingRatioY: cmd.GetNamedParameter("DAMPING_RATIO_Y", 0.1),
		SpringPeriodX: cmd.GetNamedParameter("SPRING_PERIOD_X", 0),
		SpringPeriodY: cmd.GetNamedParameter("SPRING_PERIOD_Y", 0),
	}
	if in.shaper == nil {
		in.shaper = shaping.NewInputShaper(cfg)
	} else {
		in.shaper.SetShaper(cfg)
	}
	if err := in.shaper.Attach(in.th); err != nil {
		return err
	}
	in.log.Infow("input shaper updated", "type", cfg.Type)
	return nil
}

func (in *Interpreter) doSetSmoothAxis(cmd *machine.GCodeCommand) error {
	cfg := machine.SmoothAxisConfig{
		AccelCompX: cmd.GetNamedParameter("ACCEL_COMP_X", 0),
		AccelCompY: cmd.GetNamedParameter("ACCEL_COMP_Y", 0),
	}
	in.smoother = shaping.NewSmoothAxis(cfg, in.cfg.MaxAccel)
	in.smoother.Attach(in.th)
	in.log.Infow("smooth axis updated", "accel_comp_x", cfg.AccelCompX, "accel_comp_y", cfg.AccelCompY)
	return nil
}

// doSetSCurve implements SET_SCURVE: hot-swap the toolhead's
// look-ahead planner between the order-2 trapezoid queue and the
// jerk-limited combining queue, per Toolhead.SetMoveQueue.
func (in *Interpreter) doSetSCurve(cmd *machine.GCodeCommand) error {
	enable := cmd.GetNamedParameter("ENABLE", 1) != 0
	if !enable {
		return in.th.SetMoveQueue(movequeue.NewQueue())
	}
	jerk := cmd.GetNamedParameter("JERK", in.cfg.MaxJerk)
	minT := cmd.GetNamedParameter("MIN_JERK_LIMIT_TIME", in.cfg.MinJerkLimitTime)
	accel := cmd.GetNamedParameter("ACCEL", in.cfg.MaxAccel)
	return in.th.SetMoveQueue(movequeue.NewCombiningQueue(jerk, minT, accel))
}
