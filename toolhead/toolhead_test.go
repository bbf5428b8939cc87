package toolhead_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"motioncore/config"
	"motioncore/extruder"
	"motioncore/kinematics"
	"motioncore/machine"
	"motioncore/mcu"
	"motioncore/movequeue"
	"motioncore/reactor"
	"motioncore/toolhead"
)

func newTestToolhead(t *testing.T) (*toolhead.Toolhead, *mcu.Fake) {
	t.Helper()
	cfg := config.DefaultCartesianConfig()
	kin, err := kinematics.NewCartesian(cfg)
	require.NoError(t, err)
	fake := mcu.NewFake()
	r := reactor.New(nil)
	th := toolhead.New(cfg, r, fake, kin, extruder.DummyExtruder{}, movequeue.NewQueue())
	return th, fake
}

func TestMoveAdvancesPrintTime(t *testing.T) {
	th, _ := newTestToolhead(t)
	require.Equal(t, 0.0, th.GetStats(0).PrintTime)

	err := th.Move(machine.Position{50, 0, 0, 0}, 100)
	require.NoError(t, err)
	require.NoError(t, th.WaitMoves())

	stats := th.GetStats(1000)
	require.Greater(t, stats.PrintTime, 0.0)
}

func TestMoveRejectsZeroLengthMove(t *testing.T) {
	th, fake := newTestToolhead(t)
	err := th.Move(machine.Position{0, 0, 0, 0}, 100)
	require.NoError(t, err)
	require.NoError(t, th.WaitMoves())
	last, ok := fake.LastFlush()
	require.True(t, ok, "WaitMoves always issues one MCU flush, even with nothing queued")
	require.Equal(t, 0.0, last.PrintTime, "a dropped zero-length move adds no motion time for the MCU")
}

func TestMoveClampsSpeedToAxisLimit(t *testing.T) {
	// x's configured max velocity (300) is far below the commanded speed;
	// the move must still succeed (CheckMove clamps rather than rejects).
	th, _ := newTestToolhead(t)
	err := th.Move(machine.Position{50, 0, 0, 0}, 10000)
	require.NoError(t, err)
}

func TestDwellAdvancesPrintTimeWithoutMotion(t *testing.T) {
	th, _ := newTestToolhead(t)
	require.NoError(t, th.Dwell(1.5))
	require.NoError(t, th.WaitMoves())
	require.GreaterOrEqual(t, th.GetStats(1000).PrintTime, 1.5)
}

func TestEmergencyStopRejectsFurtherMoves(t *testing.T) {
	th, _ := newTestToolhead(t)
	require.NoError(t, th.Move(machine.Position{10, 0, 0, 0}, 50))
	th.EmergencyStop()
	err := th.Move(machine.Position{20, 0, 0, 0}, 50)
	require.ErrorIs(t, err, toolhead.ErrShutdown)
}

func TestGetMaxAxisHaltWithinConfiguredVelocity(t *testing.T) {
	th, _ := newTestToolhead(t)
	require.LessOrEqual(t, th.GetMaxAxisHalt(), 300.0)
	require.Greater(t, th.GetMaxAxisHalt(), 0.0)
}

func TestSetVelocityLimitTightensAccel(t *testing.T) {
	th, fake := newTestToolhead(t)
	th.SetVelocityLimit(0, 10, 0, -1)
	require.NoError(t, th.Move(machine.Position{100, 0, 0, 0}, 300))
	require.NoError(t, th.WaitMoves())
	last, ok := fake.LastFlush()
	require.True(t, ok)
	require.GreaterOrEqual(t, last.PrintTime, 6.3,
		"100 mm at 10 mm/s^2 takes at least 2*sqrt(100/10) ~= 6.32 s")
}

func TestNewToolheadStartsInFlushedState(t *testing.T) {
	th, _ := newTestToolhead(t)
	require.Equal(t, toolhead.StateFlushed, th.GetStats(0).SpecialQueuing,
		"a freshly constructed toolhead has nothing queued, matching flush_step_generation's idle park state")
}

// A full flush cycle (forced by WaitMoves) must pass through Normal queuing
// on its way to committing the move, then land back in Flushed once nothing
// is left outstanding — not get stuck in Normal, and not skip Normal
// entirely by going straight from one Flushed to another.
func TestWaitMovesReturnsToFlushedAfterCommittingQueuedMotion(t *testing.T) {
	th, fake := newTestToolhead(t)
	require.NoError(t, th.Move(machine.Position{50, 0, 0, 0}, 100))
	require.NoError(t, th.WaitMoves())

	require.Equal(t, toolhead.StateFlushed, th.GetStats(1000).SpecialQueuing)
	_, ok := fake.LastFlush()
	require.True(t, ok, "committing the queued move must reach the MCU")
}

// calcPrintTime's resync floor (toolhead.py's _calc_print_time) must never
// let print_time start closer than BufferTimeStart to the MCU's own
// estimate, so queued step generation always has a future buffer to land in.
func TestFirstMoveRespectsBufferTimeStartFloor(t *testing.T) {
	th, _ := newTestToolhead(t)
	before := th.GetStats(0)
	require.Equal(t, 0.0, before.PrintTime)

	require.NoError(t, th.Move(machine.Position{10, 0, 0, 0}, 50))
	require.NoError(t, th.WaitMoves())

	stats := th.GetStats(0)
	require.GreaterOrEqual(t, stats.PrintTime, 0.250,
		"print_time must not start closer than BufferTimeStart to the MCU's estimate")
}

// A single move that is flushed and waited on right away leaves no idle
// flush behind its deadline, so checkStall records no stall.
func TestCheckStallCountsNoStallForPromptlyWaitedMove(t *testing.T) {
	th, _ := newTestToolhead(t)

	require.NoError(t, th.Move(machine.Position{10, 0, 0, 0}, 50))
	require.NoError(t, th.WaitMoves())

	stats := th.GetStats(0)
	require.Equal(t, 0, stats.StallCount,
		"a move that is promptly waited on should not register as a stall")
}

func TestDwellTriggersStallCheckWithoutPanicking(t *testing.T) {
	th, _ := newTestToolhead(t)
	require.NoError(t, th.Dwell(0.2))
	require.NoError(t, th.WaitMoves())
	require.GreaterOrEqual(t, th.GetStats(1000).PrintTime, 0.2)
}
