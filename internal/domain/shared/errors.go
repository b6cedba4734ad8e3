// Package shared contains the error taxonomy used across all domain packages.
// Callers classify errors with errors.Is against the Err* kinds or with KindOf;
// nothing in the engine inspects error strings.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// ErrNotFound: user, raw stats, computed stats or adjustment absent.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyReverted: revert of an adjustment that is not active.
	ErrAlreadyReverted = errors.New("already reverted")

	// ErrValidation: malformed input.
	ErrValidation = errors.New("validation error")

	// ErrExternalAPIUnavailable: circuit open, transport failure or 5xx.
	ErrExternalAPIUnavailable = errors.New("external api unavailable")

	// ErrExternalAPITimeout: the per-request deadline expired.
	ErrExternalAPITimeout = errors.New("external api timeout")

	// ErrPartialSync: a sync run completed but some entries failed.
	ErrPartialSync = errors.New("partial sync failure")

	// ErrCacheFailure: cache unreachable or payload unreadable. Never returned
	// to callers of the engine; the cache adapter logs it and fails open.
	ErrCacheFailure = errors.New("cache failure")

	// ErrConcurrentModification: a transaction lost a serialization race.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// Kind is a stable, serializable name for an error class.
type Kind string

const (
	KindNotFound               Kind = "NOT_FOUND"
	KindAlreadyReverted        Kind = "ALREADY_REVERTED"
	KindValidation             Kind = "VALIDATION_ERROR"
	KindExternalAPIUnavailable Kind = "EXTERNAL_API_UNAVAILABLE"
	KindExternalAPITimeout     Kind = "EXTERNAL_API_TIMEOUT"
	KindPartialSync            Kind = "PARTIAL_SYNC_FAILURE"
	KindCacheFailure           Kind = "CACHE_FAILURE"
	KindConflict               Kind = "CONFLICT"
	KindInternal               Kind = "INTERNAL"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrAlreadyReverted, KindAlreadyReverted},
	{ErrValidation, KindValidation},
	{ErrExternalAPITimeout, KindExternalAPITimeout},
	{ErrExternalAPIUnavailable, KindExternalAPIUnavailable},
	{ErrPartialSync, KindPartialSync},
	{ErrCacheFailure, KindCacheFailure},
	{ErrConcurrentModification, KindConflict},
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "adjustment", "sync", "stats"
	Op      string // operation that failed, e.g. "Create", "Revert"
	Kind    error  // base error for errors.Is() checking
	Message string // human-readable message
	Err     error  // underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both Kind and the wrapped error.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new DomainError.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Validationf is a shortcut for validation failures.
func Validationf(domain, op, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, ErrValidation, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsExternalAPI reports whether err came from the affiliate API.
func IsExternalAPI(err error) bool {
	return errors.Is(err, ErrExternalAPIUnavailable) || errors.Is(err, ErrExternalAPITimeout)
}
