package homing_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"motioncore/config"
	"motioncore/extruder"
	"motioncore/homing"
	"motioncore/kinematics"
	"motioncore/mcu"
	"motioncore/movequeue"
	"motioncore/reactor"
	"motioncore/toolhead"
)

func newTestRig(t *testing.T) (*toolhead.Toolhead, *reactor.Reactor) {
	t.Helper()
	cfg := config.DefaultCartesianConfig()
	kin, err := kinematics.NewCartesian(cfg)
	require.NoError(t, err)
	r := reactor.New(nil)
	th := toolhead.New(cfg, r, mcu.NewFake(), kin, extruder.DummyExtruder{}, movequeue.NewQueue())
	return th, r
}

func TestHomeRailSucceedsWhenEndstopTriggers(t *testing.T) {
	th, r := newTestRig(t)
	es := homing.NewFakeEndstop(r, 0.01)
	homer := homing.New(th, r)

	rail := homing.RailSpec{
		Axis: 0, Endstop: es,
		PositionEndstop: 0, PositionMin: 0, PositionMax: 220,
		HomingSpeed: 50, SecondHomingSpeed: 10,
		HomeRetractDist: 5, HomeDirection: -1,
	}
	_, err := homer.HomeRails([]homing.RailSpec{rail})
	require.NoError(t, err)
	require.True(t, th.GetPosition()[0] == 0)
}

func TestHomeRailFailsWhenEndstopNeverTriggers(t *testing.T) {
	th, r := newTestRig(t)
	es := homing.NewFakeEndstop(r, 0)
	es.NeverTrigger = true
	homer := homing.New(th, r)

	rail := homing.RailSpec{
		Axis: 0, Endstop: es,
		PositionEndstop: 0, PositionMin: 0, PositionMax: 220,
		HomingSpeed: 50, HomeRetractDist: 5, HomeDirection: -1,
	}
	_, err := homer.HomeRails([]homing.RailSpec{rail})
	require.ErrorIs(t, err, homing.ErrEndstopNotTriggered)
}

func TestHomeRailsRejectsBadDirection(t *testing.T) {
	th, r := newTestRig(t)
	homer := homing.New(th, r)
	rail := homing.RailSpec{Axis: 0, HomeDirection: 0}
	_, err := homer.HomeRails([]homing.RailSpec{rail})
	require.ErrorIs(t, err, homing.ErrNoMovement)
}
