// Package config loads a MachineConfig from JSON and applies the same
// defaults Klipper's config parser would apply to an un-set option,
// following the apply-defaults-after-unmarshal shape of
// standalone/config.LoadConfig in the reference firmware.
package config

import (
	"encoding/json"
	"fmt"

	"motioncore/machine"
)

// RingingReductionFactor mirrors toolhead.py's RINGING_REDUCTION_FACTOR,
// used to derive a default max_jerk from min_jerk_limit_time.
const RingingReductionFactor = 10.0

// MaxAccelCompensation is the upper bound accepted for accel_compensation.
const MaxAccelCompensation = 0.005

// Load parses JSON configuration data into a MachineConfig and fills
// in every value the original left at its zero default.
func Load(data []byte) (*machine.MachineConfig, error) {
	var cfg machine.MachineConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with Klipper's configured defaults
// and validates the bounded ones (toolhead.py's config.getfloat(...,
// minval=, maxval=) calls).
func ApplyDefaults(cfg *machine.MachineConfig) error {
	if cfg.Kinematics == "" {
		cfg.Kinematics = "cartesian"
	}
	if cfg.MaxVelocity <= 0 {
		return fmt.Errorf("config: max_velocity must be > 0")
	}
	if cfg.MaxAccel <= 0 {
		return fmt.Errorf("config: max_accel must be > 0")
	}
	if cfg.MaxAccelToDecel <= 0 {
		cfg.MaxAccelToDecel = cfg.MaxAccel * 0.5
	}
	if cfg.SquareCornerVelocity < 0 {
		return fmt.Errorf("config: square_corner_velocity must be >= 0")
	}
	if cfg.SquareCornerVelocity == 0 {
		cfg.SquareCornerVelocity = 5.0
	}
	if cfg.AccelOrder == 0 {
		cfg.AccelOrder = 2
	}
	if cfg.AccelOrder != 2 && cfg.AccelOrder != 4 && cfg.AccelOrder != 6 {
		return fmt.Errorf("config: acceleration_order must be 2, 4 or 6, got %d", cfg.AccelOrder)
	}
	if cfg.MinJerkLimitTime < 0 {
		return fmt.Errorf("config: min_jerk_limit_time must be >= 0")
	}
	if cfg.MaxJerk == 0 {
		if cfg.MinJerkLimitTime > 0 {
			cfg.MaxJerk = cfg.MaxAccel * 6.0 / (cfg.MinJerkLimitTime * RingingReductionFactor)
		} else {
			cfg.MaxJerk = cfg.MaxAccel * 30.0
		}
	}
	if cfg.AccelCompensation < 0 || cfg.AccelCompensation > MaxAccelCompensation {
		return fmt.Errorf("config: accel_compensation out of range [0, %v]", MaxAccelCompensation)
	}
	if cfg.BufferTimeLow == 0 {
		cfg.BufferTimeLow = 1.0
	}
	if cfg.BufferTimeHigh == 0 {
		cfg.BufferTimeHigh = 2.0
	}
	if cfg.BufferTimeHigh <= cfg.BufferTimeLow {
		return fmt.Errorf("config: buffer_time_high must be > buffer_time_low")
	}
	if cfg.BufferTimeStart == 0 {
		cfg.BufferTimeStart = 0.250
	}
	if cfg.MoveFlushTime == 0 {
		cfg.MoveFlushTime = 0.050
	}

	for name, axis := range cfg.Axes {
		if axis.MaxVelocity == 0 {
			axis.MaxVelocity = 300.0
		}
		if axis.MaxAccel == 0 {
			axis.MaxAccel = 1000.0
		}
		if axis.HomingVel == 0 {
			axis.HomingVel = 5.0
		}
		if axis.StepsPerMM == 0 {
			axis.StepsPerMM = 80.0
		}
		cfg.Axes[name] = axis
	}

	if cfg.InputShaper != nil {
		is := cfg.InputShaper
		if is.Type == "" {
			is.Type = "zvd"
		}
		if is.DampingRatioX < 0 || is.DampingRatioX >= 1 {
			return fmt.Errorf("config: damping_ratio_x must be in [0, 1)")
		}
		if is.DampingRatioY < 0 || is.DampingRatioY >= 1 {
			return fmt.Errorf("config: damping_ratio_y must be in [0, 1)")
		}
		if is.SpringPeriodX < 0 || is.SpringPeriodY < 0 {
			return fmt.Errorf("config: spring_period must be >= 0")
		}
	}
	if cfg.SmoothAxis != nil {
		sa := cfg.SmoothAxis
		if sa.AccelCompX < 0 || sa.AccelCompX > 0.005 {
			return fmt.Errorf("config: smooth_axis accel_comp_x out of range [0, 0.005]")
		}
		if sa.AccelCompY < 0 || sa.AccelCompY > 0.005 {
			return fmt.Errorf("config: smooth_axis accel_comp_y out of range [0, 0.005]")
		}
	}
	return nil
}

// DefaultCartesianConfig returns a representative configuration for a
// small Cartesian printer, the same role standalone/config's
// DefaultCartesianConfig plays for the embedded firmware.
func DefaultCartesianConfig() *machine.MachineConfig {
	cfg := &machine.MachineConfig{
		Kinematics: "cartesian",
		Axes: map[string]machine.AxisConfig{
			"x": {StepsPerMM: 80, MaxVelocity: 300, MaxAccel: 3000, HomingVel: 50, MinPosition: 0, MaxPosition: 220},
			"y": {StepsPerMM: 80, MaxVelocity: 300, MaxAccel: 3000, HomingVel: 50, MinPosition: 0, MaxPosition: 220},
			"z": {StepsPerMM: 400, MaxVelocity: 10, MaxAccel: 100, HomingVel: 5, MinPosition: 0, MaxPosition: 250},
			"e": {StepsPerMM: 96, MaxVelocity: 50, MaxAccel: 5000, HomingVel: 0, MinPosition: -10000, MaxPosition: 10000},
		},
		Endstops: map[string]machine.EndstopConfig{
			"x": {Name: "x"},
			"y": {Name: "y"},
			"z": {Name: "z"},
		},
		MaxVelocity:          300,
		MaxAccel:             3000,
		SquareCornerVelocity: 5,
		AccelOrder:           2,
	}
	_ = ApplyDefaults(cfg)
	return cfg
}
