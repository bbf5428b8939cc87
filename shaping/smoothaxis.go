package shaping

import (
	"math"

	"motioncore/machine"
	"motioncore/move"
	"motioncore/toolhead"
)

// JunctionFormula selects between the two candidate junction-speed
// formulas smooth_axis.py's monkey-patch of calc_junction_max_v2 could
// plausibly implement: both scale the centripetal term by the corner's
// tan/sin ratio, but one variant subtracts 1 from that ratio before
// scaling. Both are implemented; JunctionFormulaTanOverSin is the
// default (see SPEC_FULL.md's Open Question Decisions).
type JunctionFormula int

const (
	JunctionFormulaTanOverSin JunctionFormula = iota
	JunctionFormulaTanOverSinMinusOne
)

// SmoothAxis is the positional-smoothing front end: it widens the
// step-generation scan window like InputShaper, but also overrides the
// toolhead's junction-speed formula, since a smoothed axis can tolerate
// a higher cornering speed than the unsmoothed centripetal-velocity
// model assumes.
type SmoothAxis struct {
	cfg     machine.SmoothAxisConfig
	maxAccel float64
	Formula JunctionFormula
}

func NewSmoothAxis(cfg machine.SmoothAxisConfig, maxAccel float64) *SmoothAxis {
	return &SmoothAxis{cfg: cfg, maxAccel: maxAccel}
}

// CalcSmoothT derives the smoothing time for one axis from its
// configured acceleration compensation, following smooth_axis.py's
// calc_smooth_t: the axis's position is smoothed over a window just
// wide enough that the acceleration error it introduces stays within
// accel_comp of the unsmoothed trajectory's acceleration.
func CalcSmoothT(accelComp, maxAccel float64) float64 {
	if accelComp <= 0 || maxAccel <= 0 {
		return 0
	}
	return math.Sqrt(6 * accelComp / maxAccel)
}

// ScanTime returns the step-generation scan window this smoothing
// requires: the larger of the two axes' smoothing times.
func (s *SmoothAxis) ScanTime() float64 {
	tx := CalcSmoothT(s.cfg.AccelCompX, s.maxAccel)
	ty := CalcSmoothT(s.cfg.AccelCompY, s.maxAccel)
	if ty > tx {
		return ty
	}
	return tx
}

// Attach registers this front end's scan window and installs it as the
// toolhead's junction policy, per cmd_SET_SMOOTH_AXIS.
func (s *SmoothAxis) Attach(th *toolhead.Toolhead) {
	th.NoteStepGenerationScanTime(s.ScanTime())
	th.SetJunctionPolicy(s)
}

// combinedSmoothT blends the two axes' smoothing times by how much
// this move travels along each, mirroring how calc_smooth_t's per-axis
// values enter the monkey-patched junction formula weighted by the
// move's own direction cosines.
func (s *SmoothAxis) combinedSmoothT(cur *move.Move) float64 {
	tx := CalcSmoothT(s.cfg.AccelCompX, s.maxAccel)
	ty := CalcSmoothT(s.cfg.AccelCompY, s.maxAccel)
	ax, ay := math.Abs(cur.AxesR[machine.AxisX]), math.Abs(cur.AxesR[machine.AxisY])
	return tx*ax + ty*ay
}

// CalcJunctionMaxV2 implements move.JunctionPolicy, replacing the
// default approximated-centripetal-velocity term with one scaled by
// this move's smoothing time and the corner's tan/sin ratio.
func (s *SmoothAxis) CalcJunctionMaxV2(prev, cur *move.Move, r, sinThetaD2, tanThetaD2, extraJunctionV2 float64) float64 {
	smoothT := s.combinedSmoothT(cur)
	ratio := 0.0
	if sinThetaD2 > move.Epsilon {
		ratio = tanThetaD2 / sinThetaD2
	}
	if s.Formula == JunctionFormulaTanOverSinMinusOne {
		ratio -= 1
		if ratio < 0 {
			ratio = 0
		}
	}
	smoothV2 := math.Inf(1)
	if smoothT > 0 && ratio > 0 {
		v := 2 * cur.MoveD / (smoothT * ratio)
		smoothV2 = v * v
	}
	return minFloat(
		r*cur.Accel, r*prev.Accel,
		smoothV2, extraJunctionV2,
		cur.MaxCruiseV2, prev.MaxCruiseV2,
	)
}

func minFloat(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
