// Package race implements the race state machine that turns start and
// finish triggers into race records.
//
//	        AssignRunner            local trigger          remote trigger
//	IDLE ─────────────────▶ ARMED ───────────────▶ RUNNING ───────────────▶ FINISHED
//	  ▲                       ▲                                                 │
//	  │                       └──────────── AssignRunner ───────────────────────┤
//	  └───────────────────────── Reset (any state) ─────────────────────────────┘
//
// Reset returns to IDLE, or to ARMED when the runner is kept.
//
// Every transition is evaluated under one mutex, so a local and a remote
// trigger racing each other are serialized and only one can win a given
// transition. A trigger that does not match the current state is discarded;
// nothing is queued for later.
//
// The controller publishes a Snapshot for presentation surfaces. Snapshots
// are immutable and swapped atomically, so readers never block transitions.
package race
