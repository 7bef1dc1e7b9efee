package version

import (
	"strings"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		input string
		major uint16
		minor uint16
	}{
		{"1.0", 1, 0},
		{"1.1", 1, 1},
		{"2", 2, 0},
		{"10.23", 10, 23},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if v.Major != tt.major || v.Minor != tt.minor {
				t.Errorf("Parse(%q) = %d.%d, want %d.%d", tt.input, v.Major, v.Minor, tt.major, tt.minor)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"", "abc", "1.0.0", "1.x", "-1.0", ".1"} {
		t.Run(input, func(t *testing.T) {
			if _, err := Parse(input); err == nil {
				t.Errorf("Parse(%q) should return error", input)
			}
		})
	}
}

func TestVersionString(t *testing.T) {
	v, err := Parse("10.23")
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "10.23" {
		t.Errorf("String() = %q, want %q", v.String(), "10.23")
	}
}

func TestSupported(t *testing.T) {
	tests := []struct {
		peer string
		want bool
	}{
		{Protocol, true},
		{"1", true},
		{"1.7", true},
		{"2.0", false},
		{"", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := Supported(tt.peer); got != tt.want {
			t.Errorf("Supported(%q) = %v, want %v", tt.peer, got, tt.want)
		}
	}
}

func TestBuildString(t *testing.T) {
	s := String()
	if !strings.Contains(s, Build) || !strings.Contains(s, Protocol) {
		t.Errorf("String() = %q, want build and protocol versions", s)
	}
}
