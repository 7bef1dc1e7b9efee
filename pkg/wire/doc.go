// Package wire defines the gate link message format.
//
// Every frame carries one JSON envelope:
//
//	{"type": "GATE_TRIGGER", "payload": {...}, "timestamp": 1718000000.123456}
//
// The envelope timestamp is the sender's creation time in float seconds since
// the Unix epoch and is diagnostic only. Timing-relevant instants travel in
// the payload.
//
// # Message Types
//
//   - GATE_TRIGGER: secondary to primary, a finish gate trigger
//   - TIME_SYNC: secondary to primary, heartbeat and time base report
//   - CURRENT_RUNNER, RACE_START, RACE_FINISH: primary to secondary, race progress
//   - TIMING_MODE, GPS_STATUS: either direction, time reference status
//   - WIRED_SYNC: primary to secondary, the anchor of the last wired pulse
//
// Envelopes that fail to decode, or whose type is unknown, are reported as
// ErrMalformed; receivers drop them and keep reading.
package wire
