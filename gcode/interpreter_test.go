package gcode_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"motioncore/config"
	"motioncore/extruder"
	"motioncore/gcode"
	"motioncore/homing"
	"motioncore/kinematics"
	"motioncore/machine"
	"motioncore/mcu"
	"motioncore/movequeue"
	"motioncore/reactor"
	"motioncore/toolhead"
)

func newTestInterpreter(t *testing.T) (*gcode.Interpreter, *toolhead.Toolhead, *reactor.Reactor) {
	t.Helper()
	cfg := config.DefaultCartesianConfig()
	kin, err := kinematics.NewCartesian(cfg)
	require.NoError(t, err)
	r := reactor.New(nil)
	th := toolhead.New(cfg, r, mcu.NewFake(), kin, extruder.DummyExtruder{}, movequeue.NewQueue())
	rails := []homing.RailSpec{
		{Axis: 0, Endstop: homing.NewFakeEndstop(r, 0.01), PositionEndstop: 0, PositionMin: 0, PositionMax: 220, HomingSpeed: 50, HomeRetractDist: 5, HomeDirection: -1},
	}
	homer := homing.New(th, r)
	return gcode.New(cfg, th, homer, rails, nil), th, r
}

func mustParse(t *testing.T, line string) *machine.GCodeCommand {
	t.Helper()
	cmd, err := gcode.NewParser().ParseLine(line)
	require.NoError(t, err)
	return cmd
}

func TestExecuteMoveAdvancesPosition(t *testing.T) {
	in, th, _ := newTestInterpreter(t)
	require.NoError(t, in.Execute(mustParse(t, "G1 X50 Y0 F3000")))
	require.NoError(t, th.WaitMoves())
	require.InDelta(t, 50.0, th.GetPosition().X(), 1e-6)
}

func TestExecuteRelativeMoveAccumulates(t *testing.T) {
	in, th, _ := newTestInterpreter(t)
	require.NoError(t, in.Execute(mustParse(t, "G91")))
	require.NoError(t, in.Execute(mustParse(t, "G1 X10 F3000")))
	require.NoError(t, in.Execute(mustParse(t, "G1 X10 F3000")))
	require.NoError(t, th.WaitMoves())
	require.InDelta(t, 20.0, th.GetPosition().X(), 1e-6)
}

func TestExecuteSetPositionDoesNotMove(t *testing.T) {
	in, th, _ := newTestInterpreter(t)
	require.NoError(t, in.Execute(mustParse(t, "G92 X5 Y5")))
	require.Equal(t, 5.0, th.GetPosition().X())
	require.Equal(t, 5.0, th.GetPosition().Y())
}

func TestExecuteHomeUsesEndstop(t *testing.T) {
	in, th, _ := newTestInterpreter(t)
	require.NoError(t, in.Execute(mustParse(t, "G28 X")))
	require.Equal(t, 0.0, th.GetPosition().X())
}

func TestExecuteHomeWithoutRailsErrors(t *testing.T) {
	cfg := config.DefaultCartesianConfig()
	kin, err := kinematics.NewCartesian(cfg)
	require.NoError(t, err)
	r := reactor.New(nil)
	th := toolhead.New(cfg, r, mcu.NewFake(), kin, extruder.DummyExtruder{}, movequeue.NewQueue())
	in := gcode.New(cfg, th, nil, nil, nil)
	err = in.Execute(mustParse(t, "G28"))
	require.ErrorIs(t, err, gcode.ErrNoHomer)
}

func TestExecuteSetVelocityLimitExtendedCommand(t *testing.T) {
	in, _, _ := newTestInterpreter(t)
	require.NoError(t, in.Execute(mustParse(t, "SET_VELOCITY_LIMIT VELOCITY=100 ACCEL=500")))
}

func TestExecuteSetSCurveSwapsPlanner(t *testing.T) {
	in, th, _ := newTestInterpreter(t)
	require.NoError(t, in.Execute(mustParse(t, "SET_SCURVE ENABLE=1 JERK=100000")))
	require.NoError(t, th.Move(machine.Position{10, 0, 0, 0}, 50))
	require.NoError(t, th.WaitMoves())
}

func TestExecuteEmergencyStopRejectsFurtherMoves(t *testing.T) {
	in, th, _ := newTestInterpreter(t)
	require.NoError(t, in.Execute(mustParse(t, "M112")))
	err := th.Move(machine.Position{10, 0, 0, 0}, 50)
	require.ErrorIs(t, err, toolhead.ErrShutdown)
}

func TestExecuteUnknownCommandErrors(t *testing.T) {
	in, _, _ := newTestInterpreter(t)
	err := in.Execute(&machine.GCodeCommand{Type: 'G', Number: 9999})
	require.ErrorIs(t, err, gcode.ErrUnknownCommand)
}
