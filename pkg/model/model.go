// Package model holds the value types shared by the sensor, the gate link
// and the race controller.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sprintgate/sprintgate-go/pkg/timing"
)

// ErrUnknownSource is returned when parsing an unrecognised gate source.
var ErrUnknownSource = errors.New("unknown gate source")

// ErrInvalidRunner is returned for a runner without a positive ID or a name.
var ErrInvalidRunner = errors.New("invalid runner")

// Source identifies which gate produced a trigger.
type Source uint8

const (
	// SourceLocal is the start gate on the primary node.
	SourceLocal Source = iota
	// SourceRemote is the finish gate on the secondary node.
	SourceRemote
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "LOCAL"
	case SourceRemote:
		return "REMOTE"
	default:
		return "UNKNOWN"
	}
}

// ParseSource parses LOCAL or REMOTE (case-insensitive).
func ParseSource(s string) (Source, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOCAL":
		return SourceLocal, nil
	case "REMOTE":
		return SourceRemote, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSource, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(text []byte) error {
	v, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// TriggerEvent is one accepted beam break.
type TriggerEvent struct {
	Source    Source
	Timestamp time.Time
	Mode      timing.Mode
	Sequence  uint64
}

func (e TriggerEvent) String() string {
	return fmt.Sprintf("%s#%d@%s(%s)", e.Source, e.Sequence, e.Timestamp.Format(time.RFC3339Nano), e.Mode)
}

// Runner is a registered athlete.
type Runner struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Validate checks the runner has a positive ID and a non-empty name.
func (r Runner) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("%w: id %d", ErrInvalidRunner, r.ID)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRunner)
	}
	return nil
}

// Seconds converts a duration to float seconds, the unit used on the wire
// and in storage.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

// Duration converts float seconds to a duration, rounded to the nanosecond.
func Duration(secs float64) time.Duration {
	return time.Duration(secs*float64(time.Second) + copysignHalf(secs))
}

func copysignHalf(v float64) float64 {
	if v < 0 {
		return -0.5
	}
	return 0.5
}

// UnixSeconds converts an instant to float seconds since the Unix epoch.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromUnixSeconds converts float seconds since the Unix epoch to an instant.
// Sub-microsecond digits are not preserved by a float64 at current epochs.
func FromUnixSeconds(secs float64) time.Time {
	sec := int64(secs)
	nsec := int64((secs-float64(sec))*1e9 + copysignHalf(secs-float64(sec)))
	return time.Unix(sec, nsec)
}
