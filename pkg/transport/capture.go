package transport

import (
	"time"

	"github.com/sprintgate/sprintgate-go/pkg/log"
)

// Link states recorded in the capture log.
const (
	linkConnected    = "CONNECTED"
	linkDisconnected = "DISCONNECTED"
)

func captureState(l log.Logger, role log.Role, connID, remote, oldState, newState, reason string) {
	if l == nil {
		return
	}
	l.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    role,
		RemoteAddr:   remote,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityLink,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func captureError(l log.Logger, role log.Role, connID, remote string, err error, context string) {
	if l == nil || err == nil {
		return
	}
	l.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		LocalRole:    role,
		RemoteAddr:   remote,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: context,
		},
	})
}
