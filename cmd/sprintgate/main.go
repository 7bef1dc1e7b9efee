// Command sprintgate runs one node of a two-gate sprint timer.
//
// The primary node owns the start gate, the race controller, the runner
// database and the spectator API. The secondary node owns the finish gate
// and forwards its triggers to the primary over the gate link.
//
// Usage:
//
//	sprintgate <command> [flags]
//
// Commands:
//
//	primary          Run the start gate and race controller
//	secondary        Run the finish gate
//	simulate         Run both nodes in one process with simulated gates
//	runners          Add or list runners in the database
//	log              Inspect protocol capture files
//	hash-password    Hash an admin password for the config file
//
// Examples:
//
//	# Primary with the operator console
//	sprintgate primary --config /etc/sprintgate.yaml --interactive
//
//	# Secondary dialing a known primary
//	sprintgate secondary --host 192.168.4.1
//
//	# Bench test without hardware
//	sprintgate simulate
//
//	# Show the accepted and discarded triggers of a capture
//	sprintgate log view --category trigger primary.glog
package main

import (
	"fmt"
	"os"

	"github.com/tebeka/atexit"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
