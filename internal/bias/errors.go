// internal/bias/errors.go
package bias

import (
	"errors"
	"fmt"
)

// Error kinds for the analysis bridge. Unavailable and Timeout are transport
// failures; InvalidResponse means the backend answered but the payload failed
// schema validation, which is a different failure class.
var (
	ErrBackendUnavailable = errors.New("bias: backend unavailable")
	ErrBackendTimeout     = errors.New("bias: backend timeout")
	ErrInvalidResponse    = errors.New("bias: invalid backend response")
	ErrConfiguration      = errors.New("bias: invalid configuration")
)

// BridgeError carries the failure kind plus the underlying cause.
type BridgeError struct {
	Kind    error // one of the sentinels above
	Attempt int   // attempt number the failure surfaced on, 0 if not applicable
	Err     error // underlying cause, may be nil
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v (attempt %d): %v", e.Kind, e.Attempt, e.Err)
	}
	return e.Kind.Error()
}

// Unwrap exposes the kind sentinel so errors.Is works on BridgeError.
func (e *BridgeError) Unwrap() error {
	return e.Kind
}

// IsTransport reports whether the error counts toward the circuit breaker.
// Schema mismatches do not: a malformed-but-reachable backend is not an
// unreachable one.
func IsTransport(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrBackendTimeout)
}
