// Package errs defines the error taxonomy shared by the store, the
// ingestion gateway and the background loops.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindValidation marks malformed input. Surfaced to the caller,
	// never retried.
	KindValidation Kind = "validation"
	// KindStoreUnavailable marks transient storage connectivity loss.
	// Callers retry with backoff (loops simply wait for the next tick).
	KindStoreUnavailable Kind = "store_unavailable"
	// KindCycleFailure marks an aborted evaluation cycle. Logged by the
	// supervisor; the checkpoint is not advanced.
	KindCycleFailure Kind = "cycle_failure"
	// KindConfiguration marks an invalid rule definition. The rule is
	// skipped for the cycle, others proceed.
	KindConfiguration Kind = "configuration"
)

// Error carries a taxonomy kind alongside the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func StoreUnavailable(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindStoreUnavailable, Message: fmt.Sprintf(format, args...), Err: err}
}

func CycleFailure(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindCycleFailure, Message: fmt.Sprintf(format, args...), Err: err}
}

func Configuration(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func isKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func IsValidation(err error) bool       { return isKind(err, KindValidation) }
func IsStoreUnavailable(err error) bool { return isKind(err, KindStoreUnavailable) }
func IsCycleFailure(err error) bool     { return isKind(err, KindCycleFailure) }
func IsConfiguration(err error) bool    { return isKind(err, KindConfiguration) }
