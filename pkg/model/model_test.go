package model

import (
	"errors"
	"testing"
	"time"
)

func TestParseSource(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Source
	}{{"LOCAL", SourceLocal}, {"remote", SourceRemote}} {
		got, err := ParseSource(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseSource(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := ParseSource("MIDDLE"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}
}

func TestRunnerValidate(t *testing.T) {
	tests := []struct {
		r     Runner
		valid bool
	}{
		{Runner{ID: 1, Name: "Ana"}, true},
		{Runner{ID: 0, Name: "Ana"}, false},
		{Runner{ID: 3, Name: "  "}, false},
	}
	for _, tt := range tests {
		err := tt.r.Validate()
		if (err == nil) != tt.valid {
			t.Errorf("%+v.Validate() = %v, valid %v", tt.r, err, tt.valid)
		}
	}
}

func TestSecondsConversion(t *testing.T) {
	if got := Duration(10.2); got != 10200*time.Millisecond {
		t.Errorf("Duration(10.2) = %v", got)
	}
	if got := Seconds(7400 * time.Millisecond); got != 7.4 {
		t.Errorf("Seconds(7.4s) = %v", got)
	}

	at := time.Date(2025, 6, 1, 12, 0, 5, 250_000_000, time.UTC)
	back := FromUnixSeconds(UnixSeconds(at))
	if d := back.Sub(at); d > time.Microsecond || d < -time.Microsecond {
		t.Errorf("unix seconds round trip off by %v", d)
	}
}
