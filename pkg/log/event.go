package log

import (
	"time"
)

// Event is one captured gate link occurrence.
type Event struct {
	// Timestamp is the local capture time.
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the link connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// LocalRole is the node that captured the event.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// One of the following is set.
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Trigger     *TriggerEvent     `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction is the flow of a message relative to the capturing node.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer is where the event was captured.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the envelope layer (decoded JSON).
	LayerWire Layer = 1
	// LayerRace is the race controller.
	LayerRace Layer = 2
)

func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerRace:
		return "RACE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryState   Category = 1
	CategoryTrigger Category = 2
	CategoryError   Category = 3
)

func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryTrigger:
		return "TRIGGER"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory parses a category name as printed by String.
func ParseCategory(s string) (Category, bool) {
	for c := CategoryMessage; c <= CategoryError; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// Role is the capturing node.
type Role uint8

const (
	RoleUnknown   Role = 0
	RolePrimary   Role = 1
	RoleSecondary Role = 2
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "PRIMARY"
	case RoleSecondary:
		return "SECONDARY"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent is a raw frame at the transport layer.
type FrameEvent struct {
	// Size includes the length prefix.
	Size int `cbor:"1,keyasint"`

	// Data may be truncated for large frames.
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent is a decoded envelope.
type MessageEvent struct {
	// Type is the envelope type, e.g. GATE_TRIGGER.
	Type string `cbor:"1,keyasint"`

	// Created is the envelope timestamp.
	Created time.Time `cbor:"2,keyasint,omitempty"`

	// Payload is the decoded payload.
	Payload any `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent records a link or race state transition.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity is the thing whose state changed.
type StateEntity uint8

const (
	StateEntityLink   StateEntity = 0
	StateEntityRace   StateEntity = 1
	StateEntityTiming StateEntity = 2
)

func (s StateEntity) String() string {
	switch s {
	case StateEntityLink:
		return "LINK"
	case StateEntityRace:
		return "RACE"
	case StateEntityTiming:
		return "TIMING"
	default:
		return "UNKNOWN"
	}
}

// TriggerEvent records a trigger as seen by the race controller.
type TriggerEvent struct {
	Source   string    `cbor:"1,keyasint"`
	Sequence uint64    `cbor:"2,keyasint"`
	At       time.Time `cbor:"3,keyasint"`
	Mode     string    `cbor:"4,keyasint"`
	Accepted bool      `cbor:"5,keyasint,omitempty"`
	Outcome  string    `cbor:"6,keyasint,omitempty"`
}

// ErrorEventData records an error at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Context names the operation in progress.
	Context string `cbor:"3,keyasint,omitempty"`
}
