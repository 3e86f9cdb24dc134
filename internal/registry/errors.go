package registry

import (
	"fmt"

	"caseobserver/internal/domain"
)

// FetchError is returned once every attempt of a fetch has failed. It
// matches domain.ErrUpstreamUnavailable and the last underlying failure.
type FetchError struct {
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("registry fetch failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{domain.ErrUpstreamUnavailable, e.Err}
}

// StatusError is a non-2xx portal response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal responded with status %d: %s", e.Code, e.Body)
}

// MalformedError is a 2xx response that does not carry a usable case.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return "malformed portal response: " + e.Reason
}
