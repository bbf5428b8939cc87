// Package gcode turns text command lines into machine.GCodeCommand
// values and dispatches them against a Toolhead, a Homer, and the
// shaping front ends, the role klippy/gcode.py's GCodeParser and
// GCodeDispatch play together.
//
// ParseLine: a single-letter command type (G/M/T) followed by a number
// and single-letter parameters, or a named extended command with
// KEY=value parameters. Number parsing uses strconv directly (this
// package always runs host-side, so there's no embedded-build reason
// to hand-roll int/float scanning).
package gcode

import (
	"fmt"
	"strconv"
	"strings"

	"motioncore/machine"
)

// ErrEmptyLine is returned by ParseLine for a line with no command
// (blank, or comment-only).
var ErrEmptyLine = fmt.Errorf("gcode: empty or comment-only line")

// Parser turns one line of text into a machine.GCodeCommand.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

// ParseLine parses a single command line. A line is either a classic
// G/M/T command ("G1 X10 Y20 F3000"), a Klipper-style named extended
// command ("SET_VELOCITY_LIMIT VELOCITY=300 ACCEL=3000"), or a comment
// (";..." or "(...)"), which yields ErrEmptyLine.
func (p *Parser) ParseLine(line string) (*machine.GCodeCommand, error) {
	line, comment := stripComment(line)
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, ErrEmptyLine
	}

	fields := strings.Fields(line)
	first := fields[0]

	if isClassicCommand(first) {
		return parseClassic(fields, comment)
	}
	return parseExtended(fields, comment)
}

func stripComment(line string) (rest, comment string) {
	for _, marker := range []string{";", "("} {
		if idx := strings.Index(line, marker); idx >= 0 {
			c := strings.TrimSuffix(strings.TrimPrefix(line[idx:], marker), ")")
			return line[:idx], strings.TrimSpace(c)
		}
	}
	return line, ""
}

func isClassicCommand(field string) bool {
	if len(field) < 2 {
		return false
	}
	letter := toUpper(field[0])
	if letter != 'G' && letter != 'M' && letter != 'T' {
		return false
	}
	_, err := strconv.Atoi(field[1:])
	return err == nil
}

func parseClassic(fields []string, comment string) (*machine.GCodeCommand, error) {
	head := fields[0]
	number, err := strconv.Atoi(head[1:])
	if err != nil {
		return nil, fmt.Errorf("gcode: bad command number in %q: %w", head, err)
	}
	cmd := &machine.GCodeCommand{
		Type:       toUpper(head[0]),
		Number:     number,
		Parameters: make(map[byte]float64, len(fields)-1),
		Comment:    comment,
	}
	for _, field := range fields[1:] {
		if !isLetter(field[0]) {
			return nil, fmt.Errorf("gcode: parameter %q does not start with a letter", field)
		}
		letter := toUpper(field[0])
		if len(field) == 1 {
			cmd.Parameters[letter] = 0
			continue
		}
		v, err := strconv.ParseFloat(field[1:], 64)
		if err != nil {
			return nil, fmt.Errorf("gcode: bad value for parameter %q: %w", field, err)
		}
		cmd.Parameters[letter] = v
	}
	return cmd, nil
}

// parseExtended handles Klipper-style named commands: an identifier
// followed by KEY=VALUE pairs. Values that parse as numbers go into
// NamedParams; any other value (such as SET_INPUT_SHAPER's TYPE=) is
// kept as text in StringParams. Fields without '=' are ignored.
func parseExtended(fields []string, comment string) (*machine.GCodeCommand, error) {
	cmd := &machine.GCodeCommand{
		Name:         strings.ToUpper(fields[0]),
		NamedParams:  make(map[string]float64, len(fields)-1),
		StringParams: make(map[string]string),
		Comment:      comment,
	}
	for _, field := range fields[1:] {
		key, val, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		key = strings.ToUpper(key)
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cmd.NamedParams[key] = f
		} else {
			cmd.StringParams[key] = val
		}
	}
	return cmd, nil
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
