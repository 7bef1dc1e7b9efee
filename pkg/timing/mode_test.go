package timing

import (
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"GPS", ModeGPS, false},
		{"gps", ModeGPS, false},
		{" Wired ", ModeWired, false},
		{"system", ModeSystem, false},
		{"AUTO", ModeAuto, false},
		{"ntp", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestModePrecision(t *testing.T) {
	tests := []struct {
		mode  Mode
		prec  float64
		class string
	}{
		{ModeGPS, 1e-6, "nanosecond"},
		{ModeWired, 1e-4, "nanosecond"},
		{ModeSystem, 1e-3, "millisecond"},
	}
	for _, tt := range tests {
		if got := tt.mode.Precision(); got != tt.prec {
			t.Errorf("%v.Precision() = %v, want %v", tt.mode, got, tt.prec)
		}
		if got := tt.mode.PrecisionClass(); got != tt.class {
			t.Errorf("%v.PrecisionClass() = %q, want %q", tt.mode, got, tt.class)
		}
	}
}

func TestModeTextRoundTrip(t *testing.T) {
	for _, m := range []Mode{ModeSystem, ModeGPS, ModeWired, ModeAuto} {
		b, err := m.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}
		var got Mode
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", b, err)
		}
		if got != m {
			t.Errorf("round trip %v -> %q -> %v", m, b, got)
		}
	}
}
