package provision

import (
	"errors"
	"fmt"
)

// ErrorCategory categorizes errors for handling and reporting.
type ErrorCategory string

const (
	// CategoryValidation indicates invalid spec input (bad naming codes,
	// unknown role). Terminal; raised before any provider call.
	CategoryValidation ErrorCategory = "validation"
	// CategoryProvisioning indicates a provider create/get failure.
	// Retried with bounded backoff at the provider-call boundary.
	CategoryProvisioning ErrorCategory = "provisioning"
	// CategoryFederation indicates malformed federation subject inputs.
	// Terminal, like validation.
	CategoryFederation ErrorCategory = "federation"
	// CategoryScopeUnresolved indicates a cross-group scope target that
	// does not yet exist. Retryable by re-running the pipeline once the
	// dependency is satisfied.
	CategoryScopeUnresolved ErrorCategory = "scope_unresolved"
	// CategoryNotFound indicates a resource was not found.
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict indicates a resource already exists. The engine
	// treats this as success at create-or-get boundaries.
	CategoryConflict ErrorCategory = "conflict"
	// CategoryTimeout indicates an operation timed out.
	CategoryTimeout ErrorCategory = "timeout"
	// CategoryInternal indicates an internal error.
	CategoryInternal ErrorCategory = "internal"
)

// ProvisionError is a structured error with category and context.
type ProvisionError struct {
	// Category classifies the error type.
	Category ErrorCategory

	// Message is a human-readable error message.
	Message string

	// SpecKey is the spec the error belongs to, when known.
	SpecKey string

	// Stage is the pipeline stage that failed, when known.
	Stage Stage

	// Operation is the provider operation that failed.
	Operation string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates whether the operation can be retried.
	Retryable bool

	// Details contains additional error context.
	Details map[string]any
}

// Error implements the error interface.
func (e *ProvisionError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Category, e.Message)
	if e.SpecKey != "" {
		msg = fmt.Sprintf("[%s:%s] %s", e.SpecKey, e.Category, e.Message)
	}
	if e.Stage != "" {
		msg = fmt.Sprintf("%s (stage %s)", msg, e.Stage)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProvisionError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error's category.
func (e *ProvisionError) Is(target error) bool {
	var pErr *ProvisionError
	if errors.As(target, &pErr) {
		return e.Category == pErr.Category
	}
	return false
}

// NewError creates a new ProvisionError.
func NewError(category ErrorCategory, message string) *ProvisionError {
	return &ProvisionError{
		Category: category,
		Message:  message,
		Details:  make(map[string]any),
	}
}

// WithSpecKey sets the spec key.
func (e *ProvisionError) WithSpecKey(key string) *ProvisionError {
	e.SpecKey = key
	return e
}

// WithStage sets the pipeline stage.
func (e *ProvisionError) WithStage(stage Stage) *ProvisionError {
	e.Stage = stage
	return e
}

// WithOperation sets the provider operation.
func (e *ProvisionError) WithOperation(op string) *ProvisionError {
	e.Operation = op
	return e
}

// WithCause sets the underlying error.
func (e *ProvisionError) WithCause(err error) *ProvisionError {
	e.Cause = err
	return e
}

// WithRetryable marks the error as retryable.
func (e *ProvisionError) WithRetryable(retryable bool) *ProvisionError {
	e.Retryable = retryable
	return e
}

// WithDetail adds a detail to the error.
func (e *ProvisionError) WithDetail(key string, value any) *ProvisionError {
	e.Details[key] = value
	return e
}

// Convenience constructors for the error taxonomy

// ErrValidation creates a terminal validation error.
func ErrValidation(message string) *ProvisionError {
	return NewError(CategoryValidation, message)
}

// ErrProvisioning creates a retryable provisioning error.
func ErrProvisioning(message string) *ProvisionError {
	return NewError(CategoryProvisioning, message).WithRetryable(true)
}

// ErrFederation creates a terminal federation error.
func ErrFederation(message string) *ProvisionError {
	return NewError(CategoryFederation, message)
}

// ErrScopeUnresolved creates an error for a cross-group scope whose
// target resource does not yet exist.
func ErrScopeUnresolved(scope string) *ProvisionError {
	return NewError(CategoryScopeUnresolved, fmt.Sprintf("scope target does not exist yet: %s", scope)).
		WithDetail("scope", scope)
}

// ErrNotFound creates a not-found error.
func ErrNotFound(kind, name string) *ProvisionError {
	return NewError(CategoryNotFound, fmt.Sprintf("%s not found: %s", kind, name)).
		WithDetail("kind", kind).
		WithDetail("name", name)
}

// ErrConflict creates an already-exists error.
func ErrConflict(kind, name string) *ProvisionError {
	return NewError(CategoryConflict, fmt.Sprintf("%s already exists: %s", kind, name)).
		WithDetail("kind", kind).
		WithDetail("name", name)
}

// ErrTimeout creates a retryable timeout error.
func ErrTimeout(message string) *ProvisionError {
	return NewError(CategoryTimeout, message).WithRetryable(true)
}

// ErrInternal creates an internal error.
func ErrInternal(message string) *ProvisionError {
	return NewError(CategoryInternal, message)
}

// IsCategory checks if an error is of a specific category.
func IsCategory(err error, category ErrorCategory) bool {
	var pErr *ProvisionError
	if errors.As(err, &pErr) {
		return pErr.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var pErr *ProvisionError
	if errors.As(err, &pErr) {
		return pErr.Retryable
	}
	return false
}
