package discovery

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeGateTXT(t *testing.T) {
	txt := EncodeGateTXT(GateInfo{Instance: "track-1", Port: 9999, TimingMode: "GPS"})
	assert.Equal(t, TXTRecordMap{"role": "primary", "tm": "GPS", "ver": "1.0"}, txt)
	assert.Equal(t, []string{"role=primary", "tm=GPS", "ver=1.0"}, TXTRecordsToStrings(txt))

	txt = EncodeGateTXT(GateInfo{Instance: "track-1"})
	assert.NotContains(t, txt, TXTKeyTimingMode)
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"role=primary", "flag", "", "tm=a=b"})
	assert.Equal(t, TXTRecordMap{"role": "primary", "flag": "", "tm": "a=b"}, txt)
}

func TestGateFromRecord(t *testing.T) {
	svc, err := gateFromRecord("track-1", "gate.local.", 9999,
		[]string{"role=primary", "tm=WIRED", "ver=1"},
		[]net.IP{net.ParseIP("192.168.4.1"), net.ParseIP("fe80::1")})
	require.NoError(t, err)
	assert.Equal(t, "track-1", svc.Instance)
	assert.Equal(t, RolePrimary, svc.Role)
	assert.Equal(t, "WIRED", svc.TimingMode)
	assert.Equal(t, []string{"192.168.4.1", "fe80::1"}, svc.Addresses)
	assert.Equal(t, "192.168.4.1:9999", svc.Address())

	_, err = gateFromRecord("x", "h", 1, []string{"tm=GPS"}, nil)
	assert.ErrorIs(t, err, ErrMissingRequired)

	_, err = gateFromRecord("x", "h", 1, []string{"role=primary", "ver=2.0"}, nil)
	assert.ErrorIs(t, err, ErrIncompatible)

	_, err = gateFromRecord("x", "h", 1, []string{"role=primary"}, nil)
	assert.ErrorIs(t, err, ErrIncompatible, "an unversioned primary is not trusted")
}

func TestGateServiceAddress(t *testing.T) {
	tests := []struct {
		name string
		svc  GateService
		want string
	}{
		{"host only", GateService{Host: "gate.local.", Port: 9999}, "gate.local.:9999"},
		{"ipv6 only", GateService{Host: "gate.local.", Port: 9999, Addresses: []string{"fe80::1"}}, "[fe80::1]:9999"},
		{"prefers ipv4", GateService{Host: "h", Port: 1, Addresses: []string{"fe80::1", "10.0.0.2"}}, "10.0.0.2:1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.svc.Address())
		})
	}
}

func TestAddressMerge(t *testing.T) {
	addrs := mergeAddresses([]string{"10.0.0.1"}, []string{"10.0.0.1", "fe80::1"})
	assert.Equal(t, []string{"10.0.0.1", "fe80::1"}, addrs)

	addrs = removeAddresses(addrs, []net.IP{net.ParseIP("10.0.0.1")})
	assert.Equal(t, []string{"fe80::1"}, addrs)
}

func TestValidateInstanceName(t *testing.T) {
	assert.NoError(t, ValidateInstanceName("sprintgate"))
	assert.ErrorIs(t, ValidateInstanceName(""), ErrInstanceNameTooLong)
	assert.ErrorIs(t, ValidateInstanceName(strings.Repeat("a", 64)), ErrInstanceNameTooLong)
}

func TestUpdateWithoutAdvertise(t *testing.T) {
	a := NewAdvertiser(AdvertiserConfig{})
	assert.ErrorIs(t, a.Update(GateInfo{Instance: "x"}), ErrNotAdvertising)
	a.Stop()
}
