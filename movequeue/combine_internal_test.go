package movequeue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"motioncore/move"
	"motioncore/scurve"
)

// A low jerk limit keeps the final move's own ramp (tiny distance, only
// +0.1 m/s) below minJerkLimitTime, so combining with its neighbors is
// the only way it resolves into a valid ramp at all; the middle move's
// combined candidate clears minJerkLimitTime comfortably while the
// full three-move candidate takes far longer, so the middle start wins.
func combineScenario() (moves []*move.Move, q *CombiningQueue) {
	moves = []*move.Move{
		{StartAccelV: 0, CruiseV: 10, Accel: 1000, AccelT: 0.001},
		{StartAccelV: 10, CruiseV: 20, Accel: 1000, AccelT: 0.001},
		{StartAccelV: 20, CruiseV: 20.1, Accel: 1000, AccelT: 0.001},
	}
	q = &CombiningQueue{Jerk: 100, MinJerkLimitTime: 0.005, MaxAccel: 5000}
	return
}

func TestCombineAccelRunsSkipsLeastCombinedWhenTooShort(t *testing.T) {
	moves, q := combineScenario()
	minAccel := scurve.MinAccel(q.MaxAccel, q.Jerk, q.MinJerkLimitTime)

	q.combineAccelRuns(moves, minAccel)

	require.Equal(t, 0.0, moves[0].AccelOffsetT)
	require.Equal(t, 10.0, moves[0].CruiseV, "move excluded from the chosen run keeps its own order-2 result")
	require.Equal(t, 0.0, moves[0].EffectiveAccel, "order-2 moves are left for the order-2 pass to fill in")

	require.Equal(t, 0.0, moves[1].AccelOffsetT, "first move in the combined run starts the ramp at offset 0")
	require.Greater(t, moves[1].EffectiveAccel, 0.0)
	require.InDelta(t, moves[1].EffectiveAccel, moves[2].EffectiveAccel, 1e-9, "a combined run shares one effective acceleration")
	require.InDelta(t, moves[1].TotalAccelT, moves[2].TotalAccelT, 1e-9, "a combined run shares one total duration")
	require.Greater(t, moves[2].AccelOffsetT, 0.0)
	require.LessOrEqual(t, moves[2].AccelOffsetT, moves[2].TotalAccelT)
	require.NotEqual(t, 20.1, moves[2].CruiseV, "the combined ramp's own end velocity replaces the order-2 target")
}

func TestCombineDecelRunsMirrorsAccelCombining(t *testing.T) {
	moves := []*move.Move{
		{CruiseV: 20.1, Accel: 1000, DecelT: 0.001},
		{StartAccelV: 20, CruiseV: 20, Accel: 1000, DecelT: 0.001},
		{StartAccelV: 10, CruiseV: 10, Accel: 1000, DecelT: 0.001},
	}
	q := &CombiningQueue{Jerk: 100, MinJerkLimitTime: 0.005, MaxAccel: 5000}
	minAccel := scurve.MinAccel(q.MaxAccel, q.Jerk, q.MinJerkLimitTime)

	q.combineDecelRuns(moves, minAccel)

	require.Equal(t, 0.0, moves[2].DecelOffsetT, "move excluded from the chosen run keeps its own order-2 result")
	require.Equal(t, 0.0, moves[2].EffectiveDecel)

	require.Greater(t, moves[0].EffectiveDecel, 0.0)
	require.InDelta(t, moves[0].EffectiveDecel, moves[1].EffectiveDecel, 1e-9)
	require.InDelta(t, moves[0].TotalDecelT, moves[1].TotalDecelT, 1e-9)
	require.Equal(t, 0.0, moves[0].DecelOffsetT, "first move in the combined run starts the ramp at offset 0")
	require.Greater(t, moves[1].DecelOffsetT, 0.0)
	require.LessOrEqual(t, moves[1].DecelOffsetT, moves[1].TotalDecelT)
}

func TestCombinePeakCruiseMergesAdjoiningAccelAndDecel(t *testing.T) {
	moves := []*move.Move{
		{AccelT: 0.01, CruiseV: 30, JunctionMaxV2: 900, MaxCruiseV2: 625},
		{DecelT: 0.01, CruiseV: 20},
	}
	q := &CombiningQueue{}

	q.combinePeakCruise(moves)

	require.InDelta(t, 20.0, moves[0].CruiseV, 1e-9, "merges down to the lesser of both ramps, the junction cap, and the cruise cap")
	require.InDelta(t, 20.0, moves[1].CruiseV, 1e-9)
}

func TestCombinePeakCruiseRespectsCruiseSpeedCap(t *testing.T) {
	moves := []*move.Move{
		{AccelT: 0.01, CruiseV: 30, JunctionMaxV2: 900, MaxCruiseV2: 100},
		{DecelT: 0.01, CruiseV: 25},
	}
	q := &CombiningQueue{}

	q.combinePeakCruise(moves)

	require.InDelta(t, 10.0, moves[0].CruiseV, 1e-9, "MaxCruiseV2=100 caps the shared peak below either ramp's own reach")
	require.InDelta(t, 10.0, moves[1].CruiseV, 1e-9)
}

func TestCombinePeakCruiseSkipsNonAdjoiningMoves(t *testing.T) {
	moves := []*move.Move{
		{AccelT: 0.01, CruiseT: 0.02, CruiseV: 30, JunctionMaxV2: 900, MaxCruiseV2: 625},
		{DecelT: 0.01, CruiseV: 20},
	}
	q := &CombiningQueue{}

	q.combinePeakCruise(moves)

	require.Equal(t, 30.0, moves[0].CruiseV, "a move with its own cruise phase isn't a bare accel/decel boundary")
	require.Equal(t, 20.0, moves[1].CruiseV)
}

func TestChooseCombineStartPrefersValidOverFasterInvalid(t *testing.T) {
	entryV := []float64{0, 10, 20}
	dist := []float64{0.05, 0.15, 0.002005}

	best, ok := chooseCombineStart(entryV, dist, 100, 0.0833, 5000, 0, 0.005)
	require.True(t, ok)
	require.Equal(t, 1, best.pos, "the last move alone is too short to be a valid ramp even though it finishes fastest")
	require.GreaterOrEqual(t, best.seg.Duration, 0.005)
}

func TestMinAccelFloorsCombinedRunWellBelowMaxAccel(t *testing.T) {
	moves, q := combineScenario()
	minAccel := scurve.MinAccel(q.MaxAccel, q.Jerk, q.MinJerkLimitTime)
	require.Less(t, minAccel, q.MaxAccel)

	q.combineAccelRuns(moves, minAccel)

	require.LessOrEqual(t, moves[1].EffectiveAccel, q.MaxAccel)
}
