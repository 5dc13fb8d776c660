package eventlog

import "errors"

var (
	// ErrHeaderMismatch indicates an existing log file whose header is not the expected one.
	ErrHeaderMismatch = errors.New("log header mismatch")

	// ErrMalformedRow indicates a row that cannot be decoded into a record.
	ErrMalformedRow = errors.New("malformed log row")

	// ErrLogClosed indicates an append to a closed log.
	ErrLogClosed = errors.New("log closed")
)
