package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
)

// ErrMalformed indicates a frame that is not a valid envelope.
var ErrMalformed = errors.New("malformed message")

// MessageType identifies the payload carried by an envelope.
type MessageType string

const (
	TypeGateTrigger   MessageType = "GATE_TRIGGER"
	TypeTimeSync      MessageType = "TIME_SYNC"
	TypeCurrentRunner MessageType = "CURRENT_RUNNER"
	TypeRaceStart     MessageType = "RACE_START"
	TypeRaceFinish    MessageType = "RACE_FINISH"
	TypeTimingMode    MessageType = "TIMING_MODE"
	TypeGPSStatus     MessageType = "GPS_STATUS"
	TypeWiredSync     MessageType = "WIRED_SYNC"
)

// IsValid reports whether t is a known message type.
func (t MessageType) IsValid() bool {
	switch t {
	case TypeGateTrigger, TypeTimeSync, TypeCurrentRunner, TypeRaceStart,
		TypeRaceFinish, TypeTimingMode, TypeGPSStatus, TypeWiredSync:
		return true
	}
	return false
}

// Envelope is the outer message structure.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp float64         `json:"timestamp"`
}

// Created returns the envelope creation time.
func (e *Envelope) Created() time.Time {
	return model.FromUnixSeconds(e.Timestamp)
}

// GateTrigger reports one accepted trigger.
type GateTrigger struct {
	Timestamp  float64      `json:"timestamp"`
	GateID     model.Source `json:"gate_id"`
	TimingMode timing.Mode  `json:"timing_mode"`
	Sequence   uint64       `json:"sequence"`
}

// NewGateTrigger converts a trigger event to its payload.
func NewGateTrigger(evt model.TriggerEvent) GateTrigger {
	return GateTrigger{
		Timestamp:  model.UnixSeconds(evt.Timestamp),
		GateID:     evt.Source,
		TimingMode: evt.Mode,
		Sequence:   evt.Sequence,
	}
}

// Event converts the payload back to a trigger event.
func (g GateTrigger) Event() model.TriggerEvent {
	return model.TriggerEvent{
		Source:    g.GateID,
		Timestamp: model.FromUnixSeconds(g.Timestamp),
		Mode:      g.TimingMode,
		Sequence:  g.Sequence,
	}
}

func (g GateTrigger) validate() error {
	if !validUnixSeconds(g.Timestamp) {
		return fmt.Errorf("gate trigger timestamp %v", g.Timestamp)
	}
	switch g.TimingMode {
	case timing.ModeSystem, timing.ModeGPS, timing.ModeWired:
	default:
		return fmt.Errorf("gate trigger timing mode %s", g.TimingMode)
	}
	return nil
}

// TimeSync reports the sender's time base. The secondary sends one every
// heartbeat interval.
type TimeSync struct {
	TimingMode timing.Mode `json:"timing_mode"`
	Timestamp  float64     `json:"timestamp"`
	Precision  float64     `json:"precision"`
}

// CurrentRunner announces the armed runner.
type CurrentRunner struct {
	RunnerID int64  `json:"runner_id"`
	Name     string `json:"name"`
}

// RaceStart announces a recorded start.
type RaceStart struct {
	RunnerID  int64   `json:"runner_id"`
	Timestamp float64 `json:"timestamp"`
}

// RaceFinish announces a completed run.
type RaceFinish struct {
	RunnerID int64   `json:"runner_id"`
	Name     string  `json:"name"`
	Duration float64 `json:"duration"`
}

func (r RaceFinish) validate() error {
	if math.IsNaN(r.Duration) || math.IsInf(r.Duration, 0) || r.Duration < 0 {
		return fmt.Errorf("race finish duration %v", r.Duration)
	}
	return nil
}

// TimingMode announces the resolved timing mode.
type TimingMode struct {
	TimingMode timing.Mode `json:"timing_mode"`
}

// GPSStatus reports the GPS subsystem state.
type GPSStatus struct {
	Status     string `json:"status"`
	Satellites int    `json:"satellites"`
}

// WiredSync carries the master's anchor for the last wired pulse.
type WiredSync struct {
	Anchor float64 `json:"anchor"`
	Role   string  `json:"role"`
}

func (w WiredSync) validate() error {
	if !validUnixSeconds(w.Anchor) {
		return fmt.Errorf("wired sync anchor %v", w.Anchor)
	}
	return nil
}

// maxUnixSeconds is 9999-12-31T23:59:59Z.
const maxUnixSeconds = 253402300799

// validUnixSeconds reports whether v is an instant after the Unix epoch that
// converts to a time.Time without overflow. NaN fails both comparisons.
func validUnixSeconds(v float64) bool {
	return v > 0 && v <= maxUnixSeconds
}
