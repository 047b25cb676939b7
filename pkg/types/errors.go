package types

import (
	"errors"
	"fmt"
)

// Domain errors shared across the indexer
var (
	// ErrIndexMissing means the index was removed between acquisition and use.
	// Jobs treat it as a normal early return.
	ErrIndexMissing = errors.New("index missing")
	// ErrParseFailure is reported when the parser gives up on a file
	ErrParseFailure = errors.New("parse failure")
	// ErrRejected is returned by the scheduler once it is shutting down
	ErrRejected = errors.New("rejected: scheduler stopped")
	// ErrCancelled marks a job that stopped at a cancellation checkpoint
	ErrCancelled = errors.New("cancelled")
	// ErrInvalidEntry is returned for malformed index entries
	ErrInvalidEntry = errors.New("invalid index entry")
)

// IOError wraps a durable storage read or write failure
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsIOError reports whether err carries an *IOError
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}
