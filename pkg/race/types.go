package race

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sprintgate/sprintgate-go/pkg/model"
)

var (
	// ErrInvalidTransition indicates an input not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid race transition")

	// ErrNegativeDuration indicates a finish timestamp before the start.
	ErrNegativeDuration = errors.New("finish precedes start")
)

// State is the race state.
type State uint8

const (
	StateIdle State = iota
	StateArmed
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateArmed:
		return "ARMED"
	case StateRunning:
		return "RUNNING"
	case StateFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Record is one completed run.
type Record struct {
	ID         uuid.UUID
	RunnerID   int64
	RunnerName string
	Start      model.TriggerEvent
	Finish     model.TriggerEvent
	Duration   time.Duration
}

// Seconds returns the duration in float seconds.
func (r Record) Seconds() float64 {
	return model.Seconds(r.Duration)
}

// Session is the current armed or running race.
type Session struct {
	Runner *model.Runner
	State  State
	Start  *model.TriggerEvent
	Finish *model.TriggerEvent
}

// EventKind identifies a controller transition.
type EventKind uint8

const (
	EventArmed EventKind = iota
	EventStarted
	EventFinished
	EventReset
)

func (k EventKind) String() string {
	switch k {
	case EventArmed:
		return "ARMED"
	case EventStarted:
		return "STARTED"
	case EventFinished:
		return "FINISHED"
	case EventReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// Event describes a completed transition.
type Event struct {
	Kind   EventKind
	State  State
	Runner *model.Runner

	// Start is set for EventStarted.
	Start *model.TriggerEvent

	// Record is set for EventFinished.
	Record *Record
}
