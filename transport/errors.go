package transport

import (
	"errors"
	"fmt"
)

// ErrUnsupportedPlatform is the cause reported by every capability, on
// platforms without an implementation.
var ErrUnsupportedPlatform = errors.New("transport: unsupported platform")

// CapabilityError reports that an OS feature is unavailable.
type CapabilityError struct {
	Cause   error
	Feature string
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	return fmt.Sprintf("transport: %s unavailable: %v", e.Feature, e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *CapabilityError) Unwrap() error {
	return e.Cause
}

// ValidationError reports a rejected configuration value.
type ValidationError struct {
	Field  string
	Reason string
	Value  int
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("transport: invalid %s %d: %s", e.Field, e.Value, e.Reason)
}

// SockoptError reports a failure to set a socket option.
type SockoptError struct {
	Err    error
	Option string
}

// Error implements the error interface.
func (e *SockoptError) Error() string {
	return fmt.Sprintf("transport: setsockopt %s: %v", e.Option, e.Err)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *SockoptError) Unwrap() error {
	return e.Err
}
