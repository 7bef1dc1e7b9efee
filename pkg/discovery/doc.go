// Package discovery lets the secondary node find the primary over mDNS/DNS-SD.
//
// The primary advertises one _sprintgate._tcp instance on its gate link
// port. TXT records carry:
//
//	role  node role (primary)
//	tm    resolved timing mode (GPS, WIRED, SYSTEM)
//	ver   gate link protocol version
//
// A secondary with no configured host browses for the first primary and
// dials it.
package discovery
