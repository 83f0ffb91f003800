package model

import (
	"fmt"
)

// ErrorKind classifies a transport failure.
type ErrorKind int

const (
	// NetworkUnavailable means the service could not be reached at all.
	NetworkUnavailable ErrorKind = iota + 1
	// ServerRejected means the service answered with a non-success response.
	ServerRejected
	// MalformedResponse means a response arrived but could not be decoded.
	MalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case NetworkUnavailable:
		return "network_unavailable"
	case ServerRejected:
		return "server_rejected"
	case MalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// DefaultErrorMessage is shown for fatal outcomes when the service gave no detail.
const DefaultErrorMessage = "the job service reported an error without details"

// TransportError wraps a failed call so the poller can tell transient
// failures from fatal ones.
type TransportError struct {
	Kind       ErrorKind
	StatusCode int    // HTTP status, zero if no response was received
	Detail     string // "detail" from the error body, verbatim
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Message()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)
	}
	if e.Err != nil && e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable is true only for connectivity failures. Rejections and broken
// responses are fatal.
func (e *TransportError) Retryable() bool {
	return e.Kind == NetworkUnavailable
}

// Message returns a human-readable message, never empty.
func (e *TransportError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Kind == NetworkUnavailable {
		if e.Err != nil {
			return "job service unreachable: " + e.Err.Error()
		}
		return "job service unreachable"
	}
	if e.Kind == MalformedResponse && e.Err != nil {
		return "malformed response from job service: " + e.Err.Error()
	}
	return DefaultErrorMessage
}
