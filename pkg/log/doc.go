// Package log provides the gate link capture log.
//
// It is separate from operational logging (slog): every frame, decoded
// envelope, link state change, trigger and link error is recorded as an
// Event so a race can be reconstructed after the fact.
//
// # Basic Usage
//
//	// Console only
//	capture := log.NewSlogAdapter(slog.Default())
//
//	// Console and file
//	file, _ := log.NewFileLogger("/var/log/sprintgate/primary.glog")
//	capture := log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), file)
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with integer keys and
// the .glog extension. `sprintgate log view` reads and filters them.
package log
