// Package qerr holds the error kinds shared by the registry, the simulators
// and the analysis engine.
package qerr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownBackend is returned when a backend name is not registered.
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrInvalidParameter covers malformed levels, probabilities and circuits.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrResourceExceeded is returned when a simulation would exceed the
	// tractable qubit or memory bound.
	ErrResourceExceeded = errors.New("resource exceeded")
	// ErrNumericInstability is returned when a fidelity lands outside [0,1]
	// beyond tolerance.
	ErrNumericInstability = errors.New("numeric instability")
	// ErrRemoteDiscoveryFailed is logged by providers and never returned to
	// registry callers.
	ErrRemoteDiscoveryFailed = errors.New("remote discovery failed")
)

// Invalid wraps ErrInvalidParameter with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// ResourceError reports the bound a simulation would have crossed.
type ResourceError struct {
	Resource string // "qubits" or "memory"
	Required int64
	Limit    int64
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %s required %d, limit %d", ErrResourceExceeded, e.Resource, e.Required, e.Limit)
}

func (e *ResourceError) Unwrap() error { return ErrResourceExceeded }

// InstabilityError carries the raw out-of-band fidelity.
type InstabilityError struct {
	Value     float64
	Tolerance float64
}

func (e *InstabilityError) Error() string {
	return fmt.Sprintf("%s: fidelity %.12g outside [0,1] by more than %g", ErrNumericInstability, e.Value, e.Tolerance)
}

func (e *InstabilityError) Unwrap() error { return ErrNumericInstability }

// LevelError names the optimization level whose evaluation aborted an analysis.
type LevelError struct {
	Level int
	Err   error
}

func (e *LevelError) Error() string {
	return fmt.Sprintf("level %d: %v", e.Level, e.Err)
}

func (e *LevelError) Unwrap() error { return e.Err }
