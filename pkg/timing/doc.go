// Package timing resolves the common time reference shared by the two gate
// nodes.
//
// Three reference sources are supported:
//   - GPS: the system clock disciplined by a satellite-locked time service
//     (gpsd for lock detection, chrony for the current offset)
//   - WIRED: a shared epoch established by a physical pulse sent from the
//     master (primary) node to the slave (secondary) node
//   - SYSTEM: the local system clock
//
// AUTO is a resolution policy, not a source:
//
//	GPS lock within timeout ──► GPS
//	        │ no
//	        ▼
//	pulse line configured  ──► WIRED
//	        │ no
//	        ▼
//	                           SYSTEM
//
// Resolution happens once at startup and again on an explicit Reset. The
// Synchronizer owns the SyncState; every other component only reads copies.
// None of the source failures are fatal, they only narrow the resolved mode.
package timing
