package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

const (
	// ServiceType is the DNS-SD service type of a primary node.
	ServiceType = "_sprintgate._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default gate link port.
	DefaultPort = 9999

	// BrowseTimeout is the default time to wait for a primary.
	BrowseTimeout = 10 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	TXTKeyRole       = "role"
	TXTKeyTimingMode = "tm"
	TXTKeyVersion    = "ver"
)

// RolePrimary is the only advertised role.
const RolePrimary = "primary"

var (
	ErrNotFound            = errors.New("no primary found")
	ErrMissingRequired     = errors.New("missing required TXT record")
	ErrInstanceNameTooLong = errors.New("instance name too long")
	ErrNotAdvertising      = errors.New("not advertising")
	ErrIncompatible        = errors.New("incompatible protocol version")
)

// GateInfo is what a primary advertises.
type GateInfo struct {
	Instance   string
	Port       int
	TimingMode string
}

// GateService is a discovered primary.
type GateService struct {
	Instance   string
	Host       string
	Port       int
	Addresses  []string
	Role       string
	TimingMode string
	Version    string
}

// Address returns a dialable host:port, preferring IPv4 addresses over the
// host name.
func (s *GateService) Address() string {
	host := s.Host
	for _, a := range s.Addresses {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			host = a
			break
		}
		if host == s.Host {
			host = a
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}
