// Package extruder provides the toolhead's extruder collaborator: the
// interface the scheduler calls into for extrude-move junction
// advisories and per-move validation, plus a real single-extruder
// implementation and the DummyExtruder placeholder used before one is
// configured.
//
// Grounded on klippy/toolhead.py's use of self.extruder
// (calc_junction/check_move/move) and on the well-known shape of
// klippy's extruder.py; the formula below is this module's own
// derivation of that contract rather than a transcription.
package extruder

import (
	"errors"
	"math"

	"motioncore/move"
)

// ErrNoActiveExtruder is returned by DummyExtruder.CheckMove, matching
// toolhead.py's "Extrude without extruder" failure before SET_EXTRUDER
// has run.
var ErrNoActiveExtruder = errors.New("extruder: extrude move attempted with no active extruder")

// Extruder is the toolhead's pluggable extruder collaborator.
type Extruder interface {
	// CalcJunction returns the extruder's advisory cap on JunctionMaxV2
	// for the boundary between prev and cur, folded into
	// move.CalcJunctionWithDeviation's extraJunctionV2 argument.
	CalcJunction(prev, cur *move.Move) float64
	// CheckMove validates and clamps m's extrude-axis speed/accel.
	CheckMove(m *move.Move) error
	// Move is called once m's timing is finalized, advancing any
	// extruder-local state (pressure advance, stepper position).
	Move(printTime float64, m *move.Move)
}

// DummyExtruder is the toolhead's initial extruder before a real one is
// configured: any move with a nonzero E delta is rejected.
type DummyExtruder struct{}

func (DummyExtruder) CalcJunction(prev, cur *move.Move) float64 { return cur.MaxCruiseV2 }

func (DummyExtruder) CheckMove(m *move.Move) error {
	if m.AxesD[3] != 0 {
		return ErrNoActiveExtruder
	}
	return nil
}

func (DummyExtruder) Move(printTime float64, m *move.Move) {}

// Config bounds one extruder's filament-axis motion.
type Config struct {
	MaxEVelocity          float64
	MaxEAccel             float64
	InstantaneousCornerV  float64
}

// PrinterExtruder is a single configured extruder.
type PrinterExtruder struct {
	cfg Config
}

func New(cfg Config) *PrinterExtruder { return &PrinterExtruder{cfg: cfg} }

// CalcJunction bounds the junction speed by how sharply the extrusion
// ratio itself changes across the corner: when axes_r[3] (the E
// component of the move's unit direction) differs between the two
// moves, a fast corner would require an instantaneous change in
// extrusion rate, so the junction speed is capped at
// (instantaneous_corner_v / |delta_r|)^2.
func (e *PrinterExtruder) CalcJunction(prev, cur *move.Move) float64 {
	diffR := cur.AxesR[3] - prev.AxesR[3]
	if diffR == 0 {
		return cur.MaxCruiseV2
	}
	v := e.cfg.InstantaneousCornerV / math.Abs(diffR)
	return v * v
}

// CheckMove clamps m's velocity/accel to the extruder's own limits.
// Extrude-only moves are clamped to MaxEVelocity/MaxEAccel directly;
// kinematic moves with an E component are clamped to those limits
// divided by |axes_r[3]|, so the implied filament rate stays in bounds.
func (e *PrinterExtruder) CheckMove(m *move.Move) error {
	if e.cfg.MaxEVelocity <= 0 || e.cfg.MaxEAccel <= 0 {
		return errors.New("extruder: not configured")
	}
	if !m.IsKinematicMove {
		m.LimitSpeed(e.cfg.MaxEVelocity, e.cfg.MaxEAccel, 0)
		return nil
	}
	eRate := math.Abs(m.AxesR[3])
	if eRate <= 0 {
		return nil
	}
	maxV := e.cfg.MaxEVelocity / eRate
	maxA := e.cfg.MaxEAccel / eRate
	m.LimitSpeed(maxV, maxA, 0)
	return nil
}

func (e *PrinterExtruder) Move(printTime float64, m *move.Move) {}
