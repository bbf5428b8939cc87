// Package move implements the Move value object: a single commanded
// linear segment in (x,y,z,e) space, its kinematic derivations, and the
// junction-speed calculation against the preceding move.
//
// Grounded on klippy/toolhead.py's Move class (original_source/), with
// field names translated from Python's snake_case bookkeeping into Go
// structs, and on standalone/types.go's simpler Move for the planner
// output fields (AccelTicks/CruiseTicks/... became the float-second
// equivalents below).
package move

import "math"

// Epsilon is the tolerance used throughout the planner's distance and
// velocity-continuity invariants.
const Epsilon = 1e-9

// effectivelyInfinite stands in for Python's 99999999.9 sentinel used to
// make an extrude-only move's accel/jerk caps non-binding.
const effectivelyInfinite = 99999999.9

// AccelOrder selects the velocity-ramp shape: 2 = constant acceleration,
// 4 or 6 = jerk-limited S-curve (Bezier) ramps.
type AccelOrder int

const (
	AccelOrder2 AccelOrder = 2
	AccelOrder4 AccelOrder = 4
	AccelOrder6 AccelOrder = 6
)

// Move is a single linear segment between two commanded positions.
type Move struct {
	StartPos [4]float64
	EndPos   [4]float64

	Velocity          float64
	AccelOrder        AccelOrder
	Accel             float64
	AccelToDecel      float64
	Jerk              float64
	MinJerkLimitTime  float64
	AccelCompensation float64

	IsKinematicMove bool
	AxesD           [4]float64 // per-axis delta
	AxesR           [4]float64 // unit direction (axes_d / move_d)
	MoveD           float64    // Euclidean xyz length, or |de| for extrude-only
	MinMoveT        float64    // move_d / velocity
	MaxCruiseV2     float64    // velocity^2

	JunctionMaxV2 float64 // max squared entry velocity, from calc_junction

	// Planner output (filled in by the trapezoid/scurve planner once
	// this move's profile is finalized).
	AccelT        float64
	CruiseT       float64
	DecelT        float64
	AccelOffsetT  float64
	DecelOffsetT  float64
	TotalAccelT   float64
	TotalDecelT   float64
	StartAccelV   float64
	CruiseV       float64
	EffectiveAccel float64
	EffectiveDecel float64
}

// New constructs a Move between startPos and endPos at the given speed,
// using the limits in limits. Extrude-only moves (move_d below Epsilon)
// are reclassified: xyz deltas are zeroed and accel/jerk are relaxed to
// effectively infinite so only the extruder constrains the segment.
func New(startPos, endPos [4]float64, speed float64, limits Limits) *Move {
	m := &Move{
		StartPos:          startPos,
		EndPos:            endPos,
		Velocity:          math.Min(speed, limits.MaxVelocity),
		AccelOrder:        limits.AccelOrder,
		Accel:             limits.MaxAccel,
		AccelToDecel:      limits.MaxAccelToDecel,
		Jerk:              limits.MaxJerk,
		MinJerkLimitTime:  limits.MinJerkLimitTime,
		AccelCompensation: limits.AccelCompensation,
		IsKinematicMove:   true,
	}
	for i := 0; i < 4; i++ {
		m.AxesD[i] = endPos[i] - startPos[i]
	}
	sumSq := 0.0
	for i := 0; i < 3; i++ {
		sumSq += m.AxesD[i] * m.AxesD[i]
	}
	moveD := math.Sqrt(sumSq)
	velocity := m.Velocity
	if moveD < Epsilon {
		// Extrude-only move.
		m.EndPos[0], m.EndPos[1], m.EndPos[2] = startPos[0], startPos[1], startPos[2]
		m.AxesD[0], m.AxesD[1], m.AxesD[2] = 0, 0, 0
		moveD = math.Abs(m.AxesD[3])
		m.Accel = effectivelyInfinite
		m.AccelToDecel = effectivelyInfinite
		m.Jerk = effectivelyInfinite
		velocity = speed
		m.Velocity = speed
		m.IsKinematicMove = false
	}
	m.MoveD = moveD
	invMoveD := 0.0
	if moveD > 0 {
		invMoveD = 1.0 / moveD
	}
	for i := 0; i < 4; i++ {
		m.AxesR[i] = m.AxesD[i] * invMoveD
	}
	if velocity > 0 {
		m.MinMoveT = moveD / velocity
	}
	m.MaxCruiseV2 = velocity * velocity
	return m
}

// Limits bundles the velocity/accel/jerk caps a Move is constructed
// under; these come from the toolhead's current configured limits.
type Limits struct {
	MaxVelocity       float64
	MaxAccel          float64
	MaxAccelToDecel   float64
	MaxJerk           float64
	MinJerkLimitTime  float64
	AccelCompensation float64
	AccelOrder        AccelOrder
}

// LimitSpeed tightens this move's velocity/accel/jerk caps; used by
// kinematics.CheckMove and extruder.CheckMove collaborators to clamp a
// move to a tighter per-axis bound without loosening anything already
// tighter (toolhead.py's Move.limit_speed).
func (m *Move) LimitSpeed(speed, accel float64, jerk float64) {
	speed2 := speed * speed
	if speed2 < m.MaxCruiseV2 {
		m.Velocity = speed
		m.MaxCruiseV2 = speed2
		if speed > 0 {
			m.MinMoveT = m.MoveD / speed
		}
	}
	if accel < m.Accel {
		m.Accel = accel
	}
	if jerk > 0 && jerk < m.Jerk {
		m.Jerk = jerk
	}
}

// CalcJunctionWithDeviation computes JunctionMaxV2, the maximum velocity
// allowed at the boundary between prev and this move, using the
// approximated centripetal velocity model.
// extraJunctionV2 folds in any advisory cap from an external
// collaborator (extruder.calc_junction); pass +Inf if none applies.
// Non-kinematic moves (extrude-only on either side) leave JunctionMaxV2
// at its zero value, matching the Python early return. Callers
// (MoveQueue.AddMove) supply the toolhead's current junction_deviation,
// computed from square_corner_velocity by JunctionDeviation().
func (m *Move) CalcJunctionWithDeviation(prev *Move, junctionDeviation, extraJunctionV2 float64, jc JunctionPolicy) {
	if !m.IsKinematicMove || !prev.IsKinematicMove {
		return
	}
	var cosTheta float64
	for i := 0; i < 3; i++ {
		cosTheta -= m.AxesR[i] * prev.AxesR[i]
	}
	if cosTheta > 0.999999 {
		return
	}
	if cosTheta < -0.999999 {
		cosTheta = -0.999999
	}
	sinThetaD2 := math.Sqrt(0.5 * (1.0 - cosTheta))
	tanThetaD2 := sinThetaD2 / math.Sqrt(0.5*(1.0+cosTheta))
	R := junctionDeviation * sinThetaD2 / (1.0 - sinThetaD2)

	if jc != nil {
		m.JunctionMaxV2 = jc.CalcJunctionMaxV2(prev, m, R, sinThetaD2, tanThetaD2, extraJunctionV2)
		return
	}
	moveCentripetalV2 := 0.5 * m.MoveD * tanThetaD2 * m.Accel
	prevCentripetalV2 := 0.5 * prev.MoveD * tanThetaD2 * prev.Accel
	m.JunctionMaxV2 = minN(
		R*m.Accel, R*prev.Accel,
		moveCentripetalV2, prevCentripetalV2,
		extraJunctionV2, m.MaxCruiseV2, prev.MaxCruiseV2,
	)
}

// JunctionPolicy lets a shaping front end (SmoothAxis) override the
// default approximated-centripetal-velocity junction formula, modeling
// toolhead.py's runtime monkey-patching of calc_junction_max_v2 as a
// pluggable capability.
type JunctionPolicy interface {
	CalcJunctionMaxV2(prev, cur *Move, r, sinThetaD2, tanThetaD2, extraJunctionV2 float64) float64
}

// JunctionDeviation derives toolhead.py's junction_deviation from the
// configured square corner velocity and max acceleration:
// junction_deviation = scv^2 * (sqrt(2)-1) / max_accel.
func JunctionDeviation(squareCornerVelocity, maxAccel float64) float64 {
	scv2 := squareCornerVelocity * squareCornerVelocity
	return scv2 * (math.Sqrt2 - 1.0) / maxAccel
}

func minN(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
