package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Malformed or incomplete payload
	ErrCatConflict   ErrorCategory = "conflict"   // Concurrent modification detected
	ErrCatNotFound   ErrorCategory = "not_found"  // Aggregate, plugin, or pointcut missing
	ErrCatState      ErrorCategory = "state"      // Cross-process or persisted-state problem
	ErrCatStorage    ErrorCategory = "storage"    // Embedded storage failure
	ErrCatLifecycle  ErrorCategory = "lifecycle"  // Agent start/stop sequencing
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the agent core.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrOptimisticLock creates a version-hash mismatch error. The caller holds a
// stale hash and must re-fetch before retrying; the core never retries.
func ErrOptimisticLock(key, claimedHash, currentHash string) *DomainError {
	return &DomainError{
		Category:  ErrCatConflict,
		Code:      CodeOptimisticLock,
		Message:   fmt.Sprintf("%s was modified concurrently", key),
		Retryable: true,
		Details: map[string]interface{}{
			"key":                key,
			"claimedVersionHash": claimedHash,
			"currentVersionHash": currentHash,
		},
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeNotFound,
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrMalformedPayload creates a payload validation error.
func ErrMalformedPayload(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      CodeMalformedPayload,
		Message:   message,
		Retryable: false,
	}
}

// ErrMissingField creates an error for a required payload field that is absent.
func ErrMissingField(field string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      CodeMissingField,
		Message:   fmt.Sprintf("required field %q is missing", field),
		Retryable: false,
	}
}

// ErrLockConflict creates an error for a data directory already locked by
// another agent process.
func ErrLockConflict(dir string, ownerPID int) *DomainError {
	e := &DomainError{
		Category:  ErrCatState,
		Code:      CodeLockConflict,
		Message:   fmt.Sprintf("data directory %q is locked by another process", dir),
		Retryable: false,
	}
	if ownerPID > 0 {
		e.WithDetail("ownerPid", ownerPID)
	}
	return e
}

// ErrStartup creates an agent startup failure error.
func ErrStartup(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatLifecycle,
		Code:      CodeStartupFailed,
		Message:   message,
		Retryable: false,
	}
}

// ErrLifecycle creates an agent start/stop sequencing error.
func ErrLifecycle(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatLifecycle,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrStorage creates an embedded storage error.
func ErrStorage(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatStorage,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// IsOptimisticLock reports whether err is a version-hash conflict.
func IsOptimisticLock(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code == CodeOptimisticLock
	}
	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category == ErrCatNotFound
	}
	return false
}

// IsLockConflict reports whether err is a data directory lock conflict.
func IsLockConflict(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code == CodeLockConflict
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// GetDetails extracts the detail map, or nil for non-domain errors.
func GetDetails(err error) map[string]interface{} {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Details
	}
	return nil
}

// Predefined error codes
const (
	CodeOptimisticLock    = "OPTIMISTIC_LOCK"
	CodeNotFound          = "NOT_FOUND"
	CodeMalformedPayload  = "MALFORMED_PAYLOAD"
	CodeMissingField      = "MISSING_FIELD"
	CodeLockConflict      = "LOCK_CONFLICT"
	CodeLockReleaseDenied = "LOCK_RELEASE_DENIED"
	CodeStartupFailed     = "STARTUP_FAILED"
	CodeInvalidState      = "INVALID_STATE"
	CodePersistFailed     = "PERSIST_FAILED"
	CodeConfigCorrupted   = "CONFIG_CORRUPTED"
	CodeBlockTooLarge     = "BLOCK_TOO_LARGE"
	CodeBlockUnreadable   = "BLOCK_UNREADABLE"
)
