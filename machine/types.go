// Package machine holds the value types shared across the motion
// planning core: Cartesian+extruder positions, per-axis configuration,
// and the machine-wide velocity/jerk/shaping limits that the toolhead,
// planner and homing sequencer all read.
package machine

// Position is a point in machine coordinates: X, Y, Z in millimeters
// and E, the extruder's filament position in millimeters of filament.
type Position [4]float64

const (
	AxisX = 0
	AxisY = 1
	AxisZ = 2
	AxisE = 3
)

func (p Position) X() float64 { return p[AxisX] }
func (p Position) Y() float64 { return p[AxisY] }
func (p Position) Z() float64 { return p[AxisZ] }
func (p Position) E() float64 { return p[AxisE] }

// AxisConfig describes one stepper-driven axis.
type AxisConfig struct {
	StepsPerMM  float64 // Steps per millimeter
	MaxVelocity float64 // Maximum velocity (mm/s)
	MaxAccel    float64 // Maximum acceleration (mm/s^2)
	HomingVel   float64 // Homing velocity (mm/s)
	MinPosition float64 // Minimum position (mm)
	MaxPosition float64 // Maximum position (mm)
}

// EndstopConfig names the endstop associated with an axis.
type EndstopConfig struct {
	Name   string
	Invert bool
}

// InputShaperConfig configures the resonance-cancellation front end.
type InputShaperConfig struct {
	Type            string // "zv", "zvd", "zvdd", "zvddd", "ei", "2hump_ei"
	DampingRatioX   float64
	DampingRatioY   float64
	SpringPeriodX   float64
	SpringPeriodY   float64
}

// SmoothAxisConfig configures the positional-smoothing front end.
type SmoothAxisConfig struct {
	AccelCompX float64
	AccelCompY float64
}

// MachineConfig is the complete set of motion parameters consumed by
// the toolhead, planner and shaping front ends.
type MachineConfig struct {
	Kinematics string                   // "cartesian" (only kinematics implemented by this core)
	Axes       map[string]AxisConfig    // "x", "y", "z", "e"
	Endstops   map[string]EndstopConfig // "x", "y", "z"

	MaxVelocity          float64 // config_max_velocity
	MaxAccel             float64 // config_max_accel
	MaxAccelToDecel       float64
	MaxJerk              float64
	MinJerkLimitTime     float64
	SquareCornerVelocity float64 // config_square_corner_velocity
	AccelOrder           int     // 2, 4, or 6
	AccelCompensation    float64

	BufferTimeLow   float64
	BufferTimeHigh  float64
	BufferTimeStart float64
	MoveFlushTime   float64

	InputShaper *InputShaperConfig
	SmoothAxis  *SmoothAxisConfig
}

// MachineState is the G-code interpreter's mutable cursor: position,
// homing status, and modal positioning state.
type MachineState struct {
	Position     Position
	Homed        [4]bool
	AbsoluteMode bool
	FeedRate     float64 // mm/s
	ExtrudeMode  bool    // true = relative extrusion
}

// GCodeCommand is a parsed command line. Most commands are
// 'G'/'M'/'T' + number + single-letter parameters (G1 X10 Y20); Type
// is 0 for Klipper-style named "extended" commands instead
// (SET_VELOCITY_LIMIT VELOCITY=300), identified by Name and carrying
// multi-letter NamedParams.
type GCodeCommand struct {
	Type         byte
	Number       int
	Parameters   map[byte]float64
	Name         string
	NamedParams  map[string]float64
	StringParams map[string]string
	Comment      string
}

func (c *GCodeCommand) HasNamedParameter(name string) bool {
	_, ok := c.NamedParams[name]
	return ok
}

func (c *GCodeCommand) GetNamedParameter(name string, def float64) float64 {
	if v, ok := c.NamedParams[name]; ok {
		return v
	}
	return def
}

func (c *GCodeCommand) GetStringParameter(name, def string) string {
	if v, ok := c.StringParams[name]; ok {
		return v
	}
	return def
}

func (c *GCodeCommand) HasParameter(letter byte) bool {
	_, ok := c.Parameters[letter]
	return ok
}

func (c *GCodeCommand) GetParameter(letter byte, def float64) float64 {
	if v, ok := c.Parameters[letter]; ok {
		return v
	}
	return def
}
