// Package display renders race times and short status messages.
//
// A Display shows either a time, formatted as SS.ss, or a short message
// such as RDY. Writer renders to a terminal or log stream, Recorder keeps
// the current text in memory, and Indicator drives the secondary node's
// RDY / CONN / TRIG / ERR states on top of any Display.
package display
