// Package gpio provides the hardware line abstraction used by the gate
// sensor and the wired sync pulse.
//
// Two kinds of line exist:
//   - EdgeLine: an input that reports edges on a bounded channel. The
//     interrupt path only stamps the edge and enqueues it; if the consumer
//     falls behind, edges are dropped and counted rather than blocking the
//     kernel event reader.
//   - OutputLine: a driven output, used to emit the sync pulse.
//
// On Linux, lines are requested from the GPIO character device. SimLine is an
// in-process implementation for bench testing and unit tests.
package gpio
