package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

func writeCapture(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "race", "primary.glog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var out []Event
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, e)
	}
}

func TestReaderIteratesEvents(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	events := []Event{
		{Timestamp: base, ConnectionID: "c1", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage,
			Frame: &FrameEvent{Size: 42, Data: []byte(`{"type":"TIME_SYNC"}`)}},
		{Timestamp: base.Add(time.Millisecond), ConnectionID: "c1", Layer: LayerWire, Category: CategoryMessage,
			Message: &MessageEvent{Type: "GATE_TRIGGER", Payload: map[string]any{"sequence": uint64(3)}}},
		{Timestamp: base.Add(2 * time.Millisecond), LocalRole: RolePrimary, Layer: LayerRace, Category: CategoryTrigger,
			Trigger: &TriggerEvent{Source: "REMOTE", Sequence: 3, At: base, Mode: "GPS", Accepted: true, Outcome: "FINISHED"}},
	}

	r, err := NewReader(writeCapture(t, events))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	read := readAll(t, r)
	if len(read) != 3 {
		t.Fatalf("got %d events, want 3", len(read))
	}
	if !read[0].Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v (nanoseconds preserved)", read[0].Timestamp, base)
	}
	if read[1].Message == nil || read[1].Message.Type != "GATE_TRIGGER" {
		t.Errorf("message event = %+v", read[1].Message)
	}
	tr := read[2].Trigger
	if tr == nil || tr.Sequence != 3 || !tr.Accepted || tr.Outcome != "FINISHED" {
		t.Errorf("trigger event = %+v", tr)
	}
	if read[2].LocalRole != RolePrimary {
		t.Errorf("role = %v, want PRIMARY", read[2].LocalRole)
	}
}

func TestReaderFilters(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, ConnectionID: "a", Category: CategoryState, LocalRole: RoleSecondary,
			StateChange: &StateChangeEvent{Entity: StateEntityLink, NewState: "CONNECTED"}},
		{Timestamp: base.Add(time.Second), ConnectionID: "b", Category: CategoryMessage, Layer: LayerWire,
			Message: &MessageEvent{Type: "TIME_SYNC"}},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "b", Category: CategoryMessage, Layer: LayerWire,
			Message: &MessageEvent{Type: "GATE_TRIGGER"}},
		{Timestamp: base.Add(3 * time.Second), ConnectionID: "b", Category: CategoryError,
			Error: &ErrorEventData{Layer: LayerWire, Message: "malformed message"}},
	}
	path := writeCapture(t, events)

	msg := CategoryMessage
	secondary := RoleSecondary
	end := base.Add(3 * time.Second)
	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"connection", Filter{ConnectionID: "b"}, 3},
		{"category", Filter{Category: &msg}, 2},
		{"role", Filter{Role: &secondary}, 1},
		{"message type", Filter{MessageType: "GATE_TRIGGER"}, 1},
		{"time window", Filter{TimeStart: &base, TimeEnd: &end}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader: %v", err)
			}
			defer r.Close()
			if got := len(readAll(t, r)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestReaderEmptyFile(t *testing.T) {
	r, err := NewReader(writeCapture(t, nil))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next on empty file = %v, want io.EOF", err)
	}
}

func TestFileLoggerIgnoresLogAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.glog")
	l, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	l.Close()
	l.Log(Event{Timestamp: time.Now()})
	if err := l.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestParseCategory(t *testing.T) {
	for c := CategoryMessage; c <= CategoryError; c++ {
		got, ok := ParseCategory(c.String())
		if !ok || got != c {
			t.Errorf("ParseCategory(%q) = %v, %v", c.String(), got, ok)
		}
	}
	if _, ok := ParseCategory("CONTROL"); ok {
		t.Error("ParseCategory accepted an unknown name")
	}
}
