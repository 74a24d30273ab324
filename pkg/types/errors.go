package types

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors
var (
	ErrCancelled       = errors.New("search cancelled")
	ErrTimedOut        = errors.New("search timed out")
	ErrInvalidQuantity = errors.New("invalid quantity")
)

// InvalidAddressError is returned for address input that is not 20 hex-encoded bytes
type InvalidAddressError struct {
	Input  string
	Reason string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Input, e.Reason)
}

// RngUnavailableError means the candidate source could not produce bytes.
// It aborts the search and is never retried.
type RngUnavailableError struct {
	Err error
}

func (e *RngUnavailableError) Error() string {
	return "random source unavailable: " + e.Err.Error()
}

func (e *RngUnavailableError) Unwrap() error {
	return e.Err
}
