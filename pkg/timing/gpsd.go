package timing

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

var (
	// ErrSourceUnavailable indicates the requested time reference cannot be used.
	ErrSourceUnavailable = errors.New("time source unavailable")

	// ErrLockTimeout indicates GPS lock was not acquired in time.
	ErrLockTimeout = errors.New("gps lock timeout")

	// ErrNoFix indicates the GPS output contained no usable GGA sentence.
	ErrNoFix = errors.New("no GGA sentence in gps output")
)

// GPSSource is the GPS subsystem as seen by the synchronizer. All failures
// are non-fatal.
type GPSSource interface {
	// Available reports whether the GPS daemon is running.
	Available(ctx context.Context) bool

	// Satellites returns the satellite count from the latest fix.
	Satellites(ctx context.Context) (int, error)

	// ReferenceOffset returns the correction to add to the system clock to
	// obtain the disciplined reference time.
	ReferenceOffset(ctx context.Context) (time.Duration, error)
}

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// GPSD reads the GPS subsystem through gpsd, gpspipe and chrony.
type GPSD struct {
	// Run executes commands. Defaults to ExecRunner.
	Run CommandRunner

	// Sentences is the number of raw NMEA sentences read per poll (default 10).
	Sentences int
}

// NewGPSD creates a GPSD source using os/exec.
func NewGPSD() *GPSD {
	return &GPSD{Run: ExecRunner, Sentences: 10}
}

func (g *GPSD) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	run := g.Run
	if run == nil {
		run = ExecRunner
	}
	return run(ctx, name, args...)
}

// Available checks that the gpsd service is active.
func (g *GPSD) Available(ctx context.Context) bool {
	out, err := g.run(ctx, "systemctl", "is-active", "gpsd")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "active"
}

// Satellites reads raw NMEA from gpspipe and returns the highest satellite
// count reported by any GGA sentence.
func (g *GPSD) Satellites(ctx context.Context) (int, error) {
	n := g.Sentences
	if n <= 0 {
		n = 10
	}
	out, err := g.run(ctx, "gpspipe", "-r", "-n", strconv.Itoa(n))
	if err != nil {
		return 0, fmt.Errorf("gpspipe: %w", err)
	}
	return ParseSatellites(out)
}

// ParseSatellites extracts the satellite count from raw NMEA output.
// Sentences that fail to parse are skipped.
func ParseSatellites(raw []byte) (int, error) {
	best := -1
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		s, err := nmea.Parse(line)
		if err != nil || s.DataType() != nmea.TypeGGA {
			continue
		}
		gga, ok := s.(nmea.GGA)
		if !ok {
			continue
		}
		if int(gga.NumSatellites) > best {
			best = int(gga.NumSatellites)
		}
	}
	if best < 0 {
		return 0, ErrNoFix
	}
	return best, nil
}

// ReferenceOffset reads the system time correction from chrony tracking.
func (g *GPSD) ReferenceOffset(ctx context.Context) (time.Duration, error) {
	out, err := g.run(ctx, "chronyc", "-c", "tracking")
	if err != nil {
		return 0, fmt.Errorf("chronyc: %w", err)
	}
	return ParseTrackingOffset(out)
}

// ParseTrackingOffset extracts the system time field from the CSV form of
// chrony tracking output.
func ParseTrackingOffset(raw []byte) (time.Duration, error) {
	line := strings.TrimSpace(string(raw))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Split(line, ",")
	if len(fields) < 5 {
		return 0, fmt.Errorf("chronyc tracking: expected at least 5 fields, got %d", len(fields))
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, fmt.Errorf("chronyc tracking: bad system time %q", fields[4])
	}
	return time.Duration(secs * float64(time.Second)), nil
}
