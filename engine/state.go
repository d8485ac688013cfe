// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package engine

// State is the lifecycle state of a channel on this server.
type State int

// Channel lifecycle states. A channel is UNDEPLOYED until Deploy builds
// its runtime, STOPPED while deployed but idle, and STARTED while the
// source and queues run. PAUSED keeps the queues draining with the
// source shut. STOPPING covers the drain window of a graceful stop.
// HALTED is a stop that abandoned in-flight work.
const (
	StateUndeployed State = iota
	StateStopped
	StateStarting
	StateStarted
	StatePaused
	StateStopping
	StateHalted
)

// String returns the state name as shown in status listings and events.
func (state State) String() string {
	switch state {
	case StateUndeployed:
		return "UNDEPLOYED"
	case StateStopped:
		return "STOPPED"
	case StateStarting:
		return "STARTING"
	case StateStarted:
		return "STARTED"
	case StatePaused:
		return "PAUSED"
	case StateStopping:
		return "STOPPING"
	case StateHalted:
		return "HALTED"
	default:
		return "UNKNOWN"
	}
}
