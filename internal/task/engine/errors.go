package engine

import (
	"errors"
	"fmt"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine not running")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: key already in flight")
)

// NoRetry marks err as permanent so neither the engine nor the delivery
// queue retries it. Sinks use it for a rejected recipient or a 4xx reply.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsNoRetry reports whether err carries the NoRetry mark.
func IsNoRetry(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Unwrapped removes the NoRetry mark, if any.
func Unwrapped(err error) error {
	var p permanentError
	if errors.As(err, &p) {
		return p.err
	}
	return err
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }
func (e permanentError) Unwrap() error { return e.err }
