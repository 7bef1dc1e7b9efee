package timing

import (
	"errors"
	"fmt"
	"strings"
)

// Mode identifies a time reference source.
type Mode uint8

const (
	// ModeSystem uses the local system clock.
	ModeSystem Mode = iota

	// ModeGPS uses the satellite-disciplined clock.
	ModeGPS

	// ModeWired uses the epoch established by the wired sync pulse.
	ModeWired

	// ModeAuto is a resolution policy: GPS, then WIRED, then SYSTEM.
	// It is never an observed mode.
	ModeAuto
)

// ErrUnknownMode is returned when parsing an unrecognised mode name.
var ErrUnknownMode = errors.New("unknown timing mode")

// String returns the upper-case mode name used on the wire.
func (m Mode) String() string {
	switch m {
	case ModeSystem:
		return "SYSTEM"
	case ModeGPS:
		return "GPS"
	case ModeWired:
		return "WIRED"
	case ModeAuto:
		return "AUTO"
	default:
		return "UNKNOWN"
	}
}

// ParseMode parses a mode name (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SYSTEM":
		return ModeSystem, nil
	case "GPS":
		return ModeGPS, nil
	case "WIRED":
		return ModeWired, nil
	case "AUTO":
		return ModeAuto, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Precision returns the nominal precision of the mode in seconds.
func (m Mode) Precision() float64 {
	switch m {
	case ModeGPS:
		return 1e-6
	case ModeWired:
		return 1e-4
	default:
		return 1e-3
	}
}

// PrecisionClass returns the coarse precision label shown to spectators.
func (m Mode) PrecisionClass() string {
	if m == ModeGPS || m == ModeWired {
		return "nanosecond"
	}
	return "millisecond"
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
