package tracking

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated marks operations attempted without a user context.
	ErrUnauthenticated = errors.New("tracking: unauthenticated")
	// ErrPersistenceUnavailable marks transient store failures. Callers may
	// retry; the core never infers "day not initialized" from this condition.
	ErrPersistenceUnavailable = errors.New("tracking: persistence unavailable")
	// ErrInvariantViolation marks caller bugs such as deltas against the meal
	// kind or non-positive targets, reported distinctly from transient errors.
	ErrInvariantViolation = errors.New("tracking: invariant violation")
)

// ServiceError carries a machine-readable operation.reason code alongside the
// underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func persistenceFailure(cause error) error {
	return fmt.Errorf("%w: %w", ErrPersistenceUnavailable, cause)
}

func invariantFailure(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, detail)
}
