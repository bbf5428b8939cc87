// Package shaping implements the two resonance-compensation front ends
// that sit ahead of the toolhead: InputShaper (impulse-response
// smoothing, registering a step-generation scan window) and SmoothAxis
// (positional smoothing, which additionally overrides the junction
// speed formula). Grounded on klippy/extras/input_shaper.py and
// klippy/extras/smooth_axis.py (original_source/).
package shaping

import (
	"fmt"
	"math"

	"motioncore/machine"
	"motioncore/toolhead"
)

// Type names a resonance-cancellation impulse shaper.
type Type string

const (
	ZV      Type = "zv"
	ZVD     Type = "zvd"
	ZVDD    Type = "zvdd"
	ZVDDD   Type = "zvddd"
	EI      Type = "ei"
	EI2Hump Type = "2hump_ei"
)

// DampedSpringPeriod returns the resonance period as actually observed
// under damping ratio zeta, per input_shaper.py's
// get_shaper_smoothing: damped_T = T / sqrt(1 - zeta^2). A shaper sized
// off the undamped period alone is too narrow, since damping stretches
// the ringing it needs to cancel.
func DampedSpringPeriod(period, ratio float64) float64 {
	denom := 1 - ratio*ratio
	if denom <= 0 {
		return period
	}
	return period / math.Sqrt(denom)
}

// ScanWindow returns the step-generation look-ahead window a shaper of
// this type needs, as a fraction of the (damping-corrected) resonance
// period, per input_shaper.py's _get_step_generation_window: ZV needs a
// quarter period, ZVD/EI half a period, ZVDD/2HUMP_EI three quarters,
// and ZVDDD a full period.
func ScanWindow(t Type, period float64) (float64, error) {
	switch t {
	case ZV:
		return 0.25 * period, nil
	case ZVD, EI:
		return 0.5 * period, nil
	case ZVDD, EI2Hump:
		return 0.75 * period, nil
	case ZVDDD:
		return period, nil
	}
	return 0, fmt.Errorf("shaping: unknown shaper type %q", t)
}

// InputShaper is the resonance-cancellation front end: it contributes
// no change to junction speed, only a step-generation scan window the
// toolhead must keep unflushed.
type InputShaper struct {
	cfg machine.InputShaperConfig
}

func NewInputShaper(cfg machine.InputShaperConfig) *InputShaper {
	return &InputShaper{cfg: cfg}
}

// ScanTime returns the larger of the X and Y axis scan windows, the
// value passed to Toolhead.NoteStepGenerationScanTime.
func (s *InputShaper) ScanTime() (float64, error) {
	t := Type(s.cfg.Type)
	dampedX := DampedSpringPeriod(s.cfg.SpringPeriodX, s.cfg.DampingRatioX)
	dampedY := DampedSpringPeriod(s.cfg.SpringPeriodY, s.cfg.DampingRatioY)
	wx, err := ScanWindow(t, dampedX)
	if err != nil {
		return 0, err
	}
	wy, err := ScanWindow(t, dampedY)
	if err != nil {
		return 0, err
	}
	if wy > wx {
		return wy, nil
	}
	return wx, nil
}

// Attach registers this shaper's scan window with th, as
// cmd_SET_INPUT_SHAPER does when a new shaper configuration is applied.
func (s *InputShaper) Attach(th *toolhead.Toolhead) error {
	scan, err := s.ScanTime()
	if err != nil {
		return err
	}
	th.NoteStepGenerationScanTime(scan)
	return nil
}

// SetShaper reconfigures the shaper in place, implementing the
// SET_INPUT_SHAPER command. It only stores cfg; the caller re-Attaches
// (or calls NoteStepGenerationScanTime itself) to apply the new scan time.
func (s *InputShaper) SetShaper(cfg machine.InputShaperConfig) {
	s.cfg = cfg
}
