// Package homing implements the endstop-seeking sequencer: drive an
// axis toward its endstop in drip mode, retract, optionally repeat at
// a slower speed for accuracy, and record the resulting homed
// position. Grounded on klippy/homing.py's Homing class
// (original_source/).
package homing

import (
	"errors"
	"math"

	"github.com/google/uuid"

	"motioncore/machine"
	"motioncore/reactor"
	"motioncore/toolhead"
)

// Timing constants, from klippy/homing.py.
const (
	HomingStartDelay  = 0.001
	EndstopSampleTime = 0.000015
	EndstopSampleCount = 4
)

var (
	ErrEndstopNotTriggered = errors.New("homing: endstop did not trigger during the homing move")
	ErrNoMovement          = errors.New("homing: rail must move in the configured home direction")
)

// Endstop is the per-axis collaborator a homing move arms and waits on.
// The MCU transport that actually samples the physical pin lives
// outside this module's scope; this is the contract homing needs from it.
type Endstop interface {
	// QueryTriggered polls the endstop's current state without arming it.
	QueryTriggered() (bool, error)
	// HomeStart arms the endstop for a homing move and returns a
	// completion that fires (with the MCU print_time of the trigger) the
	// instant it trips.
	HomeStart(printTime, sampleTime float64, sampleCount int) (*reactor.Completion, error)
}

// RailSpec describes one axis's homing geometry and speeds.
type RailSpec struct {
	Axis              int
	Endstop           Endstop
	PositionEndstop   float64
	PositionMin       float64
	PositionMax       float64
	HomingSpeed       float64
	SecondHomingSpeed float64 // 0 disables the second (accuracy) pass
	HomeRetractDist   float64
	HomeDirection     int // +1 (toward PositionMax) or -1 (toward PositionMin)
}

// Homer drives one or more RailSpecs to their endstops.
type Homer struct {
	th *toolhead.Toolhead
	r  *reactor.Reactor
}

func New(th *toolhead.Toolhead, r *reactor.Reactor) *Homer {
	return &Homer{th: th, r: r}
}

// HomeRails homes each rail in sequence, returning the id of this
// homing session (for correlating log output across a multi-rail
// home) and the first error encountered, if any.
func (h *Homer) HomeRails(rails []RailSpec) (uuid.UUID, error) {
	session := uuid.New()
	for _, rail := range rails {
		if rail.HomeDirection != 1 && rail.HomeDirection != -1 {
			return session, ErrNoMovement
		}
		if err := h.homeRail(rail); err != nil {
			return session, err
		}
	}
	return session, nil
}

func (h *Homer) homeRail(rail RailSpec) error {
	travel := math.Abs(rail.PositionMax - rail.PositionMin)

	target := h.th.GetPosition()
	target[rail.Axis] = rail.PositionEndstop + float64(rail.HomeDirection)*travel
	if err := h.homingMove(rail, target, rail.HomingSpeed); err != nil {
		return err
	}
	// The drip move leaves the commanded position at its far target; the
	// axis stopped at the endstop, so the retract starts from there.
	atEndstop := h.th.GetPosition()
	atEndstop[rail.Axis] = rail.PositionEndstop
	h.th.SetPosition(atEndstop, nil)

	retractTarget := h.th.GetPosition()
	retractTarget[rail.Axis] -= float64(rail.HomeDirection) * rail.HomeRetractDist
	if err := h.th.Move(retractTarget, rail.HomingSpeed); err != nil {
		return err
	}
	if err := h.th.WaitMoves(); err != nil {
		return err
	}

	if rail.SecondHomingSpeed > 0 {
		secondTarget := retractTarget
		secondTarget[rail.Axis] = rail.PositionEndstop + float64(rail.HomeDirection)*rail.HomeRetractDist*2
		if err := h.homingMove(rail, secondTarget, rail.SecondHomingSpeed); err != nil {
			return err
		}
	}

	pos := h.th.GetPosition()
	pos[rail.Axis] = rail.PositionEndstop
	h.th.SetPosition(pos, []int{rail.Axis})
	return nil
}

// homingMove arms the endstop, drip-moves toward target, and requires
// the move to end via the endstop tripping rather than reaching target
// outright (which would mean the endstop never triggered).
func (h *Homer) homingMove(rail RailSpec, target machine.Position, speed float64) error {
	now := h.r.Monotonic()
	printTime := h.th.GetStats(now).PrintTime + HomingStartDelay
	completion, err := rail.Endstop.HomeStart(printTime, EndstopSampleTime, EndstopSampleCount)
	if err != nil {
		return err
	}
	outcome, err := h.th.DripMove(target, speed, completion)
	if err != nil {
		return err
	}
	if outcome != toolhead.DispatchEndstopTriggered {
		return ErrEndstopNotTriggered
	}
	return nil
}
