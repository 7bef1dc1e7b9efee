package node

import (
	"errors"
	"time"
)

// Node errors.
var (
	ErrAlreadyStarted = errors.New("node already started")
	ErrNotStarted     = errors.New("node not started")
	ErrInvalidConfig  = errors.New("invalid node configuration")
)

// DefaultStatusInterval is how often the primary checks for a GPS status
// change worth announcing.
const DefaultStatusInterval = 5 * time.Second

// Link status values shown in the primary's snapshot.
const (
	LinkConnected    = "CONNECTED"
	LinkDisconnected = "DISCONNECTED"
)

// State is the lifecycle state of a node.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
