// Package transport carries gate link envelopes between the two nodes.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      JSON envelopes (wire)     │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│             TCP                │
//	└────────────────────────────────┘
//
// The primary node listens (Server) and keeps exactly one active secondary
// connection; a newer connection supersedes the older one. The secondary
// node dials (Dial) and sends a heartbeat every interval. The primary treats
// a read idle for longer than MaxMissed heartbeat intervals as a broken link.
//
// Frames are 4-byte big-endian length prefixed and at most 64 KB. Message
// boundaries do not depend on how the stream is split into reads.
package transport
