package flow

import (
	"errors"
	"fmt"
)

// TransportError wraps a connection-level or timeout failure: the request
// never produced a readable response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError marks a response whose body was not valid JSON.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ProtocolError marks a well-formed response that signals logical failure:
// a wrong status sentinel or a missing plan identifier.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s", e.Reason)
}

// ErrExhausted marks a flow that consumed its whole poll budget without a
// completed result.
var ErrExhausted = errors.New("poll budget exhausted")
