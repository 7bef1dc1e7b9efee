// Package connection drives the secondary node's gate link lifecycle.
//
//	DISCONNECTED ──connect──▶ CONNECTING ──ok──▶ CONNECTED
//	      ▲                        │                 │
//	      └──── backoff wait ◀─────┴── fail / lost ──┘
//
// A failed attempt, a broken connection and a heartbeat timeout all lead to
// the same fixed backoff wait (5s by default) before the next attempt. There
// is no attempt limit; the loop ends only when its context is cancelled or
// the manager is closed.
//
// The wait runs on an injectable clock, so the state machine can be driven
// from tests without sockets or real sleeps.
package connection
