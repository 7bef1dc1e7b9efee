package discovery

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/sprintgate/sprintgate-go/pkg/version"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeGateTXT creates the TXT records for info.
func EncodeGateTXT(info GateInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyRole:    RolePrimary,
		TXTKeyVersion: version.Protocol,
	}
	if info.TimingMode != "" {
		txt[TXTKeyTimingMode] = info.TimingMode
	}
	return txt
}

// gateFromRecord builds a GateService from the fields of a DNS-SD answer.
func gateFromRecord(instance, host string, port int, text []string, ips []net.IP) (*GateService, error) {
	txt := StringsToTXTRecords(text)
	role, ok := txt[TXTKeyRole]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyRole)
	}
	if ver := txt[TXTKeyVersion]; !version.Supported(ver) {
		return nil, fmt.Errorf("%w: %q", ErrIncompatible, ver)
	}
	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, ip.String())
	}
	return &GateService{
		Instance:   instance,
		Host:       host,
		Port:       port,
		Addresses:  addrs,
		Role:       role,
		TimingMode: txt[TXTKeyTimingMode],
		Version:    txt[TXTKeyVersion],
	}, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops every address in gone from addresses.
func removeAddresses(addresses []string, gone []net.IP) []string {
	toRemove := make(map[string]bool, len(gone))
	for _, ip := range gone {
		toRemove[ip.String()] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
