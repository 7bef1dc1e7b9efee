package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sprintgate/sprintgate-go/pkg/model"
)

// validator is implemented by payloads with field constraints.
type validator interface {
	validate() error
}

// typeOf maps a payload value to its message type.
func typeOf(payload any) (MessageType, bool) {
	switch payload.(type) {
	case GateTrigger, *GateTrigger:
		return TypeGateTrigger, true
	case TimeSync, *TimeSync:
		return TypeTimeSync, true
	case CurrentRunner, *CurrentRunner:
		return TypeCurrentRunner, true
	case RaceStart, *RaceStart:
		return TypeRaceStart, true
	case RaceFinish, *RaceFinish:
		return TypeRaceFinish, true
	case TimingMode, *TimingMode:
		return TypeTimingMode, true
	case GPSStatus, *GPSStatus:
		return TypeGPSStatus, true
	case WiredSync, *WiredSync:
		return TypeWiredSync, true
	}
	return "", false
}

// NewEnvelope wraps payload in an envelope stamped with created.
func NewEnvelope(payload any, created time.Time) (*Envelope, error) {
	t, ok := typeOf(payload)
	if !ok {
		return nil, fmt.Errorf("unsupported payload type %T", payload)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Envelope{Type: t, Payload: raw, Timestamp: model.UnixSeconds(created)}, nil
}

// Encode serializes payload as an envelope.
func Encode(payload any, created time.Time) ([]byte, error) {
	env, err := NewEnvelope(payload, created)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses an envelope. The payload is left raw; use DecodePayload.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !env.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil, fmt.Errorf("%w: %s without payload", ErrMalformed, env.Type)
	}
	return &env, nil
}

// DecodePayload decodes the payload of env into a T, checking that the
// envelope type matches T.
func DecodePayload[T any](env *Envelope) (T, error) {
	var v T
	want, _ := typeOf(v)
	if env.Type != want {
		return v, fmt.Errorf("%w: expected %s, got %s", ErrMalformed, want, env.Type)
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	if vv, ok := any(v).(validator); ok {
		if err := vv.validate(); err != nil {
			return v, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return v, nil
}
