package gcode_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"motioncore/gcode"
)

func TestParseLineClassicCommand(t *testing.T) {
	p := gcode.NewParser()
	cmd, err := p.ParseLine("G1 X100.5 Y-20 F3000")
	require.NoError(t, err)
	require.Equal(t, byte('G'), cmd.Type)
	require.Equal(t, 1, cmd.Number)
	require.True(t, cmd.HasParameter('X'))
	require.Equal(t, 100.5, cmd.GetParameter('X', 0))
	require.Equal(t, -20.0, cmd.GetParameter('Y', 0))
	require.Equal(t, 3000.0, cmd.GetParameter('F', 0))
}

func TestParseLineLowercaseLettersNormalize(t *testing.T) {
	p := gcode.NewParser()
	cmd, err := p.ParseLine("g0 x10 y20")
	require.NoError(t, err)
	require.Equal(t, byte('G'), cmd.Type)
	require.True(t, cmd.HasParameter('X'))
}

func TestParseLineStripsSemicolonComment(t *testing.T) {
	p := gcode.NewParser()
	cmd, err := p.ParseLine("G1 X10 ; move to X10")
	require.NoError(t, err)
	require.Equal(t, "move to X10", cmd.Comment)
	require.Equal(t, 10.0, cmd.GetParameter('X', 0))
}

func TestParseLineCommentOnlyIsEmpty(t *testing.T) {
	p := gcode.NewParser()
	_, err := p.ParseLine("; nothing to do here")
	require.ErrorIs(t, err, gcode.ErrEmptyLine)

	_, err = p.ParseLine("   ")
	require.ErrorIs(t, err, gcode.ErrEmptyLine)
}

func TestParseLineExtendedCommand(t *testing.T) {
	p := gcode.NewParser()
	cmd, err := p.ParseLine("SET_VELOCITY_LIMIT VELOCITY=300 ACCEL=3000")
	require.NoError(t, err)
	require.Equal(t, "SET_VELOCITY_LIMIT", cmd.Name)
	require.Equal(t, 300.0, cmd.GetNamedParameter("VELOCITY", 0))
	require.Equal(t, 3000.0, cmd.GetNamedParameter("ACCEL", 0))
}

func TestParseLineExtendedCommandStringValue(t *testing.T) {
	p := gcode.NewParser()
	cmd, err := p.ParseLine("SET_INPUT_SHAPER TYPE=zvd SHAPER_FREQ_X=40")
	require.NoError(t, err)
	require.Equal(t, "zvd", cmd.GetStringParameter("TYPE", ""))
	require.Equal(t, 40.0, cmd.GetNamedParameter("SHAPER_FREQ_X", 0))
}

func TestParseLineRejectsBadNumber(t *testing.T) {
	p := gcode.NewParser()
	_, err := p.ParseLine("G1 Xabc")
	require.Error(t, err)
}
