// Package version holds the gate link protocol version and the build version.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Protocol is the gate link protocol version spoken by this build. Nodes
// with a different major version cannot race together.
const Protocol = "1.0"

// Build is the release version, set with
// -ldflags "-X github.com/sprintgate/sprintgate-go/pkg/version.Build=v1.2.3".
var Build = "dev"

// Version is a parsed "major.minor" protocol version.
type Version struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string. A bare major ("1") is
// accepted as minor 0.
func Parse(s string) (Version, error) {
	majorStr, minorStr, hasMinor := strings.Cut(s, ".")
	if !hasMinor {
		minorStr = "0"
	}

	major, err := strconv.ParseUint(majorStr, 10, 16)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: bad major component", s)
	}
	minor, err := strconv.ParseUint(minorStr, 10, 16)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}
	return Version{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String returns the version as "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible reports whether other shares v's major version.
func (v Version) Compatible(other Version) bool {
	return v.Major == other.Major
}

// Supported reports whether a peer advertising s can link with this build.
func Supported(s string) bool {
	peer, err := Parse(s)
	if err != nil {
		return false
	}
	current, _ := Parse(Protocol)
	return current.Compatible(peer)
}

// String describes this build for version output.
func String() string {
	return fmt.Sprintf("sprintgate %s (gate link protocol %s)", Build, Protocol)
}
