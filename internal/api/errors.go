package api

import "fmt"

// TransportError is a network failure or a non-2xx response from the service
type TransportError struct {
	StatusCode    int    // 0 when no response was received
	ServerMessage string // "error" field of the response body, if any
	Err           error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("transport error: %v", e.Err)
	case e.ServerMessage != "":
		return fmt.Sprintf("service returned %d: %s", e.StatusCode, e.ServerMessage)
	default:
		return fmt.Sprintf("service returned %d", e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError means the response body could not be parsed
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ApplicationError means the service answered but reported success=false
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return "analysis failed"
	}
	return "analysis failed: " + e.Message
}
