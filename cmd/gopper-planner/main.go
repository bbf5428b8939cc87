// Command gopper-planner is an interactive G-code console for the
// motion planning core: it reads command lines (from stdin or a
// script file), feeds each through the gcode parser and interpreter,
// and reports errors without exiting the session.
//
// Grounded on host/cmd/gopper-host/main.go's overall shape (flag
// parsing, a banner, an interactive read-dispatch-print loop reading
// from os.Stdin via bufio.Scanner) but replacing its serial-port MCU
// connection with this module's in-process Toolhead, since this core's
// scope ends at motion scheduling rather than physical step
// transmission.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"motioncore/config"
	"motioncore/extruder"
	"motioncore/gcode"
	"motioncore/homing"
	"motioncore/kinematics"
	"motioncore/machine"
	"motioncore/mcu"
	"motioncore/movequeue"
	"motioncore/reactor"
	"motioncore/toolhead"
)

func main() {
	var (
		configPath string
		scriptPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:   "gopper-planner",
		Short: "Interactive G-code console for the motion planning core",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, scriptPath, verbose)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a JSON machine configuration (default: built-in Cartesian config)")
	root.Flags().StringVar(&scriptPath, "script", "", "path to a G-code file to execute instead of reading stdin")
	root.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath, scriptPath string, verbose bool) error {
	logger, err := newLogger(verbose)
	if err != nil {
		return fmt.Errorf("gopper-planner: logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	in, err := buildInterpreter(cfg, logger.Sugar())
	if err != nil {
		return err
	}

	var src *os.File
	if scriptPath != "" {
		src, err = os.Open(scriptPath)
		if err != nil {
			return fmt.Errorf("gopper-planner: opening script: %w", err)
		}
		defer src.Close()
	} else {
		src = os.Stdin
		fmt.Println("Gopper Planner - motion planning core console")
		fmt.Println("==============================================")
		fmt.Println("Enter G-code or extended commands ('quit' to exit):")
	}

	return runLoop(in, src, scriptPath == "")
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

func loadConfig(path string) (*machine.MachineConfig, error) {
	if path == "" {
		return config.DefaultCartesianConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gopper-planner: reading config: %w", err)
	}
	cfg, err := config.Load(data)
	if err != nil {
		return nil, fmt.Errorf("gopper-planner: loading config: %w", err)
	}
	return cfg, nil
}

func buildInterpreter(cfg *machine.MachineConfig, log *zap.SugaredLogger) (*gcode.Interpreter, error) {
	kin, err := kinematics.NewCartesian(cfg)
	if err != nil {
		return nil, fmt.Errorf("gopper-planner: kinematics: %w", err)
	}
	r := reactor.New(nil)
	m := mcu.NewFake()
	th := toolhead.New(cfg, r, m, kin, extruder.New(extruder.Config{
		MaxEVelocity:         cfg.Axes["e"].MaxVelocity,
		MaxEAccel:            cfg.Axes["e"].MaxAccel,
		InstantaneousCornerV: 1.0,
	}), movequeue.NewQueue())

	// This core's scope ends at motion scheduling: there is no physical
	// endstop transport to arm, so each configured axis gets a
	// FakeEndstop that trips a fixed delay after a homing move starts.
	// G28 here exercises the drip-mode homing sequence itself, not a
	// real machine's endstop wiring.
	var rails []homing.RailSpec
	var homer *homing.Homer
	for i, name := range []string{"x", "y", "z"} {
		if _, ok := cfg.Endstops[name]; !ok {
			continue
		}
		axisCfg := cfg.Axes[name]
		rails = append(rails, homing.RailSpec{
			Axis:            i,
			Endstop:         homing.NewFakeEndstop(r, 0.02),
			PositionEndstop: axisCfg.MinPosition,
			PositionMin:     axisCfg.MinPosition,
			PositionMax:     axisCfg.MaxPosition,
			HomingSpeed:     axisCfg.HomingVel,
			HomeRetractDist: 5,
			HomeDirection:   -1,
		})
	}
	if len(rails) > 0 {
		homer = homing.New(th, r)
	}

	return gcode.New(cfg, th, homer, rails, log), nil
}

func runLoop(in *gcode.Interpreter, src *os.File, interactive bool) error {
	parser := gcode.NewParser()
	scanner := bufio.NewScanner(src)

	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if interactive && (line == "quit" || line == "exit" || line == "q") {
			fmt.Println("Goodbye!")
			return nil
		}

		cmd, err := parser.ParseLine(line)
		if err != nil {
			if err == gcode.ErrEmptyLine {
				continue
			}
			fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
			continue
		}
		if err := in.Execute(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return scanner.Err()
}
