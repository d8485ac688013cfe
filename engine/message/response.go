// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package message

import "fmt"

// Response is what a destination dispatch or a response script produces.
type Response struct {
	Status        Status
	Message       string
	Error         string
	StatusMessage string
}

// NewResponse returns a response with the given status and payload.
func NewResponse(status Status, payload string) *Response {
	return &Response{Status: status, Message: payload}
}

// ErrorResponse returns an ERROR response carrying err.
func ErrorResponse(statusMessage string, err error) *Response {
	resp := &Response{Status: StatusError, StatusMessage: statusMessage}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// ResponseMapKey returns the response-map key for a destination metadata id.
func ResponseMapKey(metaDataID int) string {
	return fmt.Sprintf("d%d", metaDataID)
}
