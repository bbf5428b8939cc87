package shaping_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"motioncore/machine"
	"motioncore/shaping"
)

func TestDampedSpringPeriodStretchesWithDamping(t *testing.T) {
	got := shaping.DampedSpringPeriod(0.04, 0.1)
	require.True(t, floats.EqualWithinAbs(got, 0.040201, 1e-6))
}

func TestDampedSpringPeriodZeroRatioIsNoop(t *testing.T) {
	require.Equal(t, 0.04, shaping.DampedSpringPeriod(0.04, 0))
}

func TestDampedSpringPeriodClampsCriticallyDampedInput(t *testing.T) {
	got := shaping.DampedSpringPeriod(0.04, 1.0)
	require.Equal(t, 0.04, got)
}

func TestScanWindowFractionsByType(t *testing.T) {
	cases := []struct {
		t    shaping.Type
		frac float64
	}{
		{shaping.ZV, 0.25},
		{shaping.ZVD, 0.5},
		{shaping.EI, 0.5},
		{shaping.ZVDD, 0.75},
		{shaping.EI2Hump, 0.75},
		{shaping.ZVDDD, 1.0},
	}
	for _, c := range cases {
		got, err := shaping.ScanWindow(c.t, 0.04)
		require.NoError(t, err)
		require.True(t, floats.EqualWithinAbs(got, c.frac*0.04, 1e-9), "type %v", c.t)
	}
}

func TestScanWindowRejectsUnknownType(t *testing.T) {
	_, err := shaping.ScanWindow(shaping.Type("bogus"), 0.04)
	require.Error(t, err)
}

// Reproduces the boundary scenario: SPRING_PERIOD=0.04, DAMPING_RATIO=0.1
// must yield a damped period of ~0.0402 and, for a half-period shaper, a
// scan window of ~0.0201 — not the undamped 0.02 a naive ScanTime would
// compute by ignoring DampingRatioX/Y entirely.
func TestScanTimeAppliesDampingCorrection(t *testing.T) {
	cfg := machine.InputShaperConfig{
		Type:          "zvd",
		DampingRatioX: 0.1,
		DampingRatioY: 0.1,
		SpringPeriodX: 0.04,
		SpringPeriodY: 0.04,
	}
	s := shaping.NewInputShaper(cfg)

	got, err := s.ScanTime()
	require.NoError(t, err)
	require.True(t, floats.EqualWithinAbs(got, 0.0201, 1e-4), "got %v", got)
	require.False(t, floats.EqualWithinAbs(got, 0.02, 1e-4), "must not silently ignore damping ratio")
}

func TestScanTimeUsesLargerOfXAndYAxis(t *testing.T) {
	cfg := machine.InputShaperConfig{
		Type:          "zv",
		DampingRatioX: 0,
		DampingRatioY: 0.2,
		SpringPeriodX: 0.01,
		SpringPeriodY: 0.05,
	}
	s := shaping.NewInputShaper(cfg)

	got, err := s.ScanTime()
	require.NoError(t, err)

	wantY := 0.25 * shaping.DampedSpringPeriod(0.05, 0.2)
	require.True(t, floats.EqualWithinAbs(got, wantY, 1e-9))
	require.False(t, math.IsNaN(got))
}
