// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package message

import "github.com/zeebo/errs"

// Error is the message package error class.
var Error = errs.Class("message")

// Status is the lifecycle state of a connector message. It is persisted as a
// single character.
type Status byte

// Connector message statuses.
const (
	// StatusReceived means the message has been persisted but not processed.
	StatusReceived Status = 'R'
	// StatusFiltered means a filter rejected the message.
	StatusFiltered Status = 'F'
	// StatusTransformed means the source transformer finished.
	StatusTransformed Status = 'T'
	// StatusSent means the destination delivered the message.
	StatusSent Status = 'S'
	// StatusQueued means the message waits in a destination queue.
	StatusQueued Status = 'Q'
	// StatusError means processing or delivery failed.
	StatusError Status = 'E'
	// StatusPending means a destination holds the message mid-processing.
	StatusPending Status = 'P'
)

// Error codes recorded on connector messages when processing fails.
const (
	ErrCodeNone      = 0
	ErrCodeFilter    = 1
	ErrCodeTransform = 2
	ErrCodeDispatch  = 3
	ErrCodeResponse  = 4
	ErrCodeHalted    = 5
	ErrCodeRecovery  = 6
)

// Char returns the single character stored form of the status.
func (s Status) Char() string {
	return string([]byte{byte(s)})
}

// Valid reports whether the status is one of the defined states.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusFiltered, StatusTransformed,
		StatusSent, StatusQueued, StatusError, StatusPending:
		return true
	}
	return false
}

// Terminal reports whether the status ends processing for the connector
// message.
func (s Status) Terminal() bool {
	switch s {
	case StatusFiltered, StatusSent, StatusError, StatusTransformed:
		return true
	}
	return false
}

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusReceived:
		return "RECEIVED"
	case StatusFiltered:
		return "FILTERED"
	case StatusTransformed:
		return "TRANSFORMED"
	case StatusSent:
		return "SENT"
	case StatusQueued:
		return "QUEUED"
	case StatusError:
		return "ERROR"
	case StatusPending:
		return "PENDING"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus converts a stored character into a Status.
func ParseStatus(s string) (Status, error) {
	if len(s) != 1 {
		return 0, Error.New("invalid status %q", s)
	}
	status := Status(s[0])
	if !status.Valid() {
		return 0, Error.New("invalid status %q", s)
	}
	return status, nil
}
