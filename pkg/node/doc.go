// Package node assembles the two gate nodes.
//
// A Primary owns the start gate, the race controller and the listening end
// of the gate link. It forwards CURRENT_RUNNER, RACE_START and RACE_FINISH
// to the connected secondary, announces its timing mode and GPS status on
// connect, and in WIRED mode sends a sync pulse followed by WIRED_SYNC.
//
// A Secondary owns the finish gate. It dials the primary (or finds it over
// mDNS), keeps the link alive with TIME_SYNC heartbeats, reconnects with a
// fixed backoff and forwards every accepted finish trigger as GATE_TRIGGER.
// Triggers produced while the link is down are logged and dropped.
package node
