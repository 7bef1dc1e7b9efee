package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func captureSlog(t *testing.T, event Event) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	adapter.Log(event)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse slog output %q: %v", buf.String(), err)
	}
	return entry
}

func TestSlogAdapterFrame(t *testing.T) {
	entry := captureSlog(t, Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-1",
		Direction:    DirectionOut,
		Layer:        LayerTransport,
		Frame:        &FrameEvent{Size: 64},
	})
	if entry["msg"] != "gatelink" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["direction"] != "OUT" || entry["layer"] != "TRANSPORT" {
		t.Errorf("direction/layer = %v/%v", entry["direction"], entry["layer"])
	}
	if entry["frame_size"] != float64(64) {
		t.Errorf("frame_size = %v", entry["frame_size"])
	}
}

func TestSlogAdapterTrigger(t *testing.T) {
	entry := captureSlog(t, Event{
		Timestamp: time.Now(),
		LocalRole: RolePrimary,
		Layer:     LayerRace,
		Category:  CategoryTrigger,
		Trigger:   &TriggerEvent{Source: "LOCAL", Sequence: 1, Mode: "WIRED", Accepted: true, Outcome: "RUNNING"},
	})
	if entry["role"] != "PRIMARY" || entry["source"] != "LOCAL" || entry["outcome"] != "RUNNING" {
		t.Errorf("unexpected entry %v", entry)
	}
	if entry["accepted"] != true {
		t.Errorf("accepted = %v", entry["accepted"])
	}
}

func TestSlogAdapterStateAndError(t *testing.T) {
	entry := captureSlog(t, Event{
		Category:    CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityLink, OldState: "CONNECTING", NewState: "CONNECTED", Reason: "dial ok"},
	})
	if entry["entity"] != "LINK" || entry["new_state"] != "CONNECTED" || entry["reason"] != "dial ok" {
		t.Errorf("unexpected state entry %v", entry)
	}

	entry = captureSlog(t, Event{
		Category: CategoryError,
		Error:    &ErrorEventData{Layer: LayerWire, Message: "bad frame", Context: "decode"},
	})
	if entry["error_layer"] != "WIRE" || entry["error_msg"] != "bad frame" {
		t.Errorf("unexpected error entry %v", entry)
	}
}

type recordingLogger struct{ events []Event }

func (r *recordingLogger) Log(e Event) { r.events = append(r.events, e) }

func TestMultiLogger(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, b)
	m.Log(Event{ConnectionID: "x"})
	m.Log(Event{ConnectionID: "y"})

	if len(a.events) != 2 || len(b.events) != 2 {
		t.Fatalf("fan-out counts = %d, %d", len(a.events), len(b.events))
	}
	if b.events[1].ConnectionID != "y" {
		t.Errorf("order not preserved: %+v", b.events)
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	r := &recordingLogger{}
	if OrNoop(r) != Logger(r) {
		t.Error("OrNoop should return a non-nil logger unchanged")
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 10, 200000001, time.UTC)
	in := Event{
		Timestamp: at,
		Layer:     LayerRace,
		Category:  CategoryState,
		StateChange: &StateChangeEvent{
			Entity: StateEntityRace, OldState: "RUNNING", NewState: "FINISHED",
		},
	}
	data, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	out, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if !out.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", out.Timestamp, at)
	}
	if out.StateChange == nil || out.StateChange.NewState != "FINISHED" {
		t.Errorf("state change = %+v", out.StateChange)
	}
}
