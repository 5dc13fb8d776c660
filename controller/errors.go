package controller

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed remote access.
type ErrorKind int

const (
	// TransportError means no valid response arrived: connect failure, timeout, reset.
	TransportError ErrorKind = iota + 1
	// ProtocolError means the gateway answered with a Modbus exception.
	ProtocolError
)

func (k ErrorKind) String() string {
	switch k {
	case TransportError:
		return "transport"
	case ProtocolError:
		return "protocol"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is the cause recorded when a request is made on a closed transport.
	ErrNotConnected = errors.New("not connected")
	// ErrShortResponse is the cause recorded when a response carries no data.
	ErrShortResponse = errors.New("short response")
)

// PointError is the error carried by a failed Result.
type PointError struct {
	Kind ErrorKind
	Op   string
	Addr uint16
	Err  error
}

func (e *PointError) Error() string {
	return fmt.Sprintf("%s %d: %s error: %v", e.Op, e.Addr, e.Kind, e.Err)
}

func (e *PointError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one remote access: a value or a *PointError.
type Result[T any] struct {
	Value T
	Err   *PointError
}

func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func Failure[T any](err *PointError) Result[T] {
	return Result[T]{Err: err}
}

func (r Result[T]) IsOk() bool {
	return r.Err == nil
}

// Get returns the value and a plain error, nil on success.
func (r Result[T]) Get() (T, error) {
	if r.Err == nil {
		return r.Value, nil
	}

	return r.Value, r.Err
}
