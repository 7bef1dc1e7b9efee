package main

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/tebeka/atexit"

	"github.com/sprintgate/sprintgate-go/pkg/config"
	"github.com/sprintgate/sprintgate-go/pkg/gpio"
	"github.com/sprintgate/sprintgate-go/pkg/log"
	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/persistence"
	"github.com/sprintgate/sprintgate-go/pkg/sensor"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
)

// openCapture opens the protocol capture file when one is configured. At
// debug level events are mirrored to the operational log as well.
func openCapture(cfg config.Config, logger *slog.Logger) log.Logger {
	var loggers []log.Logger
	if cfg.Log.ProtocolLog != "" {
		file, err := log.NewFileLogger(cfg.Log.ProtocolLog)
		if err != nil {
			atexit.Fatalf("Failed to open protocol log %s: %v", cfg.Log.ProtocolLog, err)
		}
		atexit.Register(func() {
			if err := file.Close(); err != nil {
				logger.Warn("closing protocol log", "error", err)
			}
		})
		logger.Info("protocol capture enabled", "path", cfg.Log.ProtocolLog)
		loggers = append(loggers, file)
	}
	if cfg.LogLevel() <= slog.LevelDebug {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}
	if len(loggers) == 0 {
		return nil
	}
	return log.NewMultiLogger(loggers...)
}

// openBeam opens the beam sensor input. Failure to open hardware is fatal.
func openBeam(cfg config.Config) gpio.EdgeLine {
	in := gpio.InputConfig{
		Chip:   cfg.Sensor.Chip,
		Offset: cfg.Sensor.Line,
		Edge:   gpio.EdgeFalling,
		Pull:   gpio.PullUp,
	}
	if cfg.Sensor.ActiveHigh {
		in.Edge, in.Pull = gpio.EdgeRising, gpio.PullDown
	}
	line, err := gpio.OpenInput(in)
	if err != nil {
		atexit.Fatalf("Failed to open beam sensor: %v", err)
	}
	return line
}

// openPulse opens the wired sync line for role, or returns nil when wired
// sync is not configured.
func openPulse(cfg config.Config, role timing.Role) (gpio.OutputLine, gpio.EdgeLine) {
	if cfg.Timing.PulseLine < 0 {
		return nil, nil
	}
	if role == timing.RoleMaster {
		out, err := gpio.OpenOutput(gpio.OutputConfig{Chip: cfg.Timing.PulseChip, Offset: cfg.Timing.PulseLine})
		if err != nil {
			atexit.Fatalf("Failed to open sync pulse output: %v", err)
		}
		return out, nil
	}
	in, err := gpio.OpenInput(gpio.InputConfig{
		Chip:   cfg.Timing.PulseChip,
		Offset: cfg.Timing.PulseLine,
		Edge:   gpio.EdgeRising,
		Pull:   gpio.PullDown,
	})
	if err != nil {
		atexit.Fatalf("Failed to open sync pulse input: %v", err)
	}
	return nil, in
}

// gateLines are the GPIO lines of one node.
type gateLines struct {
	Beam     gpio.EdgeLine
	PulseOut gpio.OutputLine
	PulseIn  gpio.EdgeLine
}

func openHardware(cfg config.Config, role timing.Role) gateLines {
	lines := gateLines{Beam: openBeam(cfg)}
	lines.PulseOut, lines.PulseIn = openPulse(cfg, role)
	return lines
}

// newSynchronizer builds the time reference. The GPS daemon is consulted
// only on hardware. Lines are released once, at exit.
func newSynchronizer(cfg config.Config, role timing.Role, lines gateLines, clock clockwork.Clock, logger *slog.Logger) *timing.Synchronizer {
	mode, _ := timing.ParseMode(cfg.Timing.Mode)

	tc := timing.Config{
		Role:          role,
		Mode:          mode,
		MinSatellites: cfg.Timing.GPSMinSatellites,
		PollInterval:  cfg.Timing.GPSPollInterval,
		QueryTimeout:  cfg.Timing.GPSQueryTimeout,
		LockTimeout:   cfg.Timing.GPSLockTimeout,
		PulseOut:      lines.PulseOut,
		PulseIn:       lines.PulseIn,
		PulseWidth:    cfg.Timing.PulseWidth,
		Clock:         clock,
		Logger:        logger,
	}
	if !cfg.Simulate {
		tc.GPS = timing.NewGPSD()
	}

	syncer := timing.NewSynchronizer(tc)
	atexit.Register(func() {
		if err := syncer.Release(); err != nil {
			logger.Warn("releasing sync pulse line", "error", err)
		}
	})
	return syncer
}

func newSensor(cfg config.Config, line gpio.EdgeLine, stamper sensor.Stamper, source model.Source, logger *slog.Logger) *sensor.Sensor {
	s := sensor.New(sensor.Config{
		Line:     line,
		Stamper:  stamper,
		Source:   source,
		Debounce: cfg.Sensor.Debounce,
		Logger:   logger,
	})
	atexit.Register(func() {
		if err := s.Close(); err != nil {
			logger.Warn("releasing beam sensor", "error", err)
		}
	})
	return s
}

// openState returns the node state store, or nil when disabled.
func openState(cfg config.Config) *persistence.StateStore {
	if cfg.Storage.StatePath == "" {
		return nil
	}
	return persistence.NewStateStore(cfg.Storage.StatePath)
}
