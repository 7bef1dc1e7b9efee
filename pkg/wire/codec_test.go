package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
)

var created = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestEncodeGateTriggerLayout(t *testing.T) {
	evt := model.TriggerEvent{
		Source:    model.SourceRemote,
		Timestamp: created.Add(10200 * time.Millisecond),
		Mode:      timing.ModeWired,
		Sequence:  7,
	}
	data, err := Encode(NewGateTrigger(evt), created)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Equal(t, "GATE_TRIGGER", generic["type"])
	assert.InDelta(t, model.UnixSeconds(created), generic["timestamp"], 1e-6)

	payload := generic["payload"].(map[string]any)
	assert.Equal(t, "REMOTE", payload["gate_id"])
	assert.Equal(t, "WIRED", payload["timing_mode"])
	assert.Equal(t, float64(7), payload["sequence"])

	env, err := Decode(data)
	require.NoError(t, err)
	got, err := DecodePayload[GateTrigger](env)
	require.NoError(t, err)

	back := got.Event()
	assert.Equal(t, evt.Source, back.Source)
	assert.Equal(t, evt.Mode, back.Mode)
	assert.Equal(t, evt.Sequence, back.Sequence)
	assert.WithinDuration(t, evt.Timestamp, back.Timestamp, time.Microsecond)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"type":`},
		{"unknown type", `{"type":"HELLO","payload":{},"timestamp":1}`},
		{"missing payload", `{"type":"TIME_SYNC","timestamp":1}`},
		{"null payload", `{"type":"TIME_SYNC","payload":null,"timestamp":1}`},
		{"array", `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestDecodePayloadMalformed(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		decode func(*Envelope) error
	}{
		{
			name:   "type mismatch",
			data:   `{"type":"TIME_SYNC","payload":{"timing_mode":"GPS","timestamp":1,"precision":0.000001},"timestamp":1}`,
			decode: func(e *Envelope) error { _, err := DecodePayload[GateTrigger](e); return err },
		},
		{
			name:   "bad gate id",
			data:   `{"type":"GATE_TRIGGER","payload":{"timestamp":1718000000.5,"gate_id":"MIDDLE","timing_mode":"GPS","sequence":1},"timestamp":1}`,
			decode: func(e *Envelope) error { _, err := DecodePayload[GateTrigger](e); return err },
		},
		{
			name:   "bad timing mode",
			data:   `{"type":"TIMING_MODE","payload":{"timing_mode":"NTP"},"timestamp":1}`,
			decode: func(e *Envelope) error { _, err := DecodePayload[TimingMode](e); return err },
		},
		{
			name:   "zero trigger timestamp",
			data:   `{"type":"GATE_TRIGGER","payload":{"timestamp":0,"gate_id":"REMOTE","timing_mode":"GPS","sequence":1},"timestamp":1}`,
			decode: func(e *Envelope) error { _, err := DecodePayload[GateTrigger](e); return err },
		},
		{
			name:   "trigger timestamp overflows",
			data:   `{"type":"GATE_TRIGGER","payload":{"timestamp":1e30,"gate_id":"REMOTE","timing_mode":"GPS","sequence":1},"timestamp":1}`,
			decode: func(e *Envelope) error { _, err := DecodePayload[GateTrigger](e); return err },
		},
		{
			name:   "trigger stamped with a policy",
			data:   `{"type":"GATE_TRIGGER","payload":{"timestamp":1718000000.5,"gate_id":"REMOTE","timing_mode":"AUTO","sequence":1},"timestamp":1}`,
			decode: func(e *Envelope) error { _, err := DecodePayload[GateTrigger](e); return err },
		},
		{
			name:   "wired anchor overflows",
			data:   `{"type":"WIRED_SYNC","payload":{"anchor":1e30,"role":"master"},"timestamp":1}`,
			decode: func(e *Envelope) error { _, err := DecodePayload[WiredSync](e); return err },
		},
		{
			name:   "negative duration",
			data:   `{"type":"RACE_FINISH","payload":{"runner_id":1,"name":"A","duration":-1},"timestamp":1}`,
			decode: func(e *Envelope) error { _, err := DecodePayload[RaceFinish](e); return err },
		},
		{
			name:   "wrong field type",
			data:   `{"type":"CURRENT_RUNNER","payload":{"runner_id":"one","name":"A"},"timestamp":1}`,
			decode: func(e *Envelope) error { _, err := DecodePayload[CurrentRunner](e); return err },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.data))
			require.NoError(t, err)
			assert.ErrorIs(t, tt.decode(env), ErrMalformed)
		})
	}
}

func TestPayloadTypes(t *testing.T) {
	tests := []struct {
		payload any
		want    MessageType
	}{
		{TimeSync{TimingMode: timing.ModeGPS, Timestamp: 1, Precision: 1e-6}, TypeTimeSync},
		{CurrentRunner{RunnerID: 3, Name: "Ana"}, TypeCurrentRunner},
		{RaceStart{RunnerID: 3, Timestamp: 1}, TypeRaceStart},
		{&RaceFinish{RunnerID: 3, Name: "Ana", Duration: 10.2}, TypeRaceFinish},
		{TimingMode{TimingMode: timing.ModeSystem}, TypeTimingMode},
		{GPSStatus{Status: "LOCKED", Satellites: 8}, TypeGPSStatus},
		{WiredSync{Anchor: 1718000000, Role: "master"}, TypeWiredSync},
	}
	for _, tt := range tests {
		env, err := NewEnvelope(tt.payload, created)
		require.NoError(t, err)
		assert.Equal(t, tt.want, env.Type)
		assert.Equal(t, created, env.Created().UTC())
	}

	_, err := NewEnvelope(struct{}{}, created)
	assert.Error(t, err)
}

func TestRaceFinishRoundTrip(t *testing.T) {
	data, err := Encode(RaceFinish{RunnerID: 4, Name: "Bo", Duration: 7.4}, created)
	require.NoError(t, err)
	env, err := Decode(data)
	require.NoError(t, err)
	got, err := DecodePayload[RaceFinish](env)
	require.NoError(t, err)
	assert.Equal(t, RaceFinish{RunnerID: 4, Name: "Bo", Duration: 7.4}, got)
}
