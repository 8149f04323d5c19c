package scheduling

import "fmt"

// The core returns exactly five error kinds. Callers branch on the concrete
// type (errors.As); the HTTP layer maps them onto status codes. The core
// never retries internally; retry/backoff is the caller's concern.

// ValidationError marks a malformed, out-of-window or blacked-out request.
// Not retryable with the same input.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError builds a ValidationError with the default code.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Code: "validationError", Message: fmt.Sprintf(format, args...)}
}

// ConflictError marks a slot lost to a racing writer. Retryable after
// re-querying availability.
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewConflictError builds a ConflictError with the default code.
func NewConflictError(format string, args ...any) error {
	return &ConflictError{Code: "conflictError", Message: fmt.Sprintf(format, args...)}
}

// PolicyError marks an operation disallowed by a business rule (cancellation
// window, reschedule limit, terminal state). Not retryable; the user must be
// told the fee or limit.
type PolicyError struct {
	Code     string
	Message  string
	FeeCents int64
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewPolicyError builds a PolicyError with the default code.
func NewPolicyError(format string, args ...any) error {
	return &PolicyError{Code: "policyError", Message: fmt.Sprintf(format, args...)}
}

// CapacityError marks a resource that would be over-allocated. Handled like
// ConflictError by callers.
type CapacityError struct {
	Code    string
	Message string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCapacityError builds a CapacityError with the default code.
func NewCapacityError(format string, args ...any) error {
	return &CapacityError{Code: "capacityError", Message: fmt.Sprintf(format, args...)}
}

// InfrastructureError marks a failed persistence or cache dependency.
// Non-retryable within the same request.
type InfrastructureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *InfrastructureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InfrastructureError) Unwrap() error { return e.Cause }

// NewInfrastructureError wraps a dependency failure.
func NewInfrastructureError(msg string, cause error) error {
	return &InfrastructureError{Code: "infrastructureError", Message: msg, Cause: cause}
}
