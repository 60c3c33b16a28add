// Package errs defines the error taxonomy shared by every ledger component.
//
// Writes fail with Validation or Continuity errors and leave no trace in the
// store. Integrity problems are never errors: verifiers return them as
// findings. Reads return ErrNotFound when nothing exists for the request, and
// traversals that run out of budget return a partial result flagged as
// truncated rather than an error.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code categorizes ledger errors.
type Code string

const (
	// CodeValidation indicates malformed input: missing fields, bad enum
	// values, out-of-range depth or score.
	CodeValidation Code = "VALIDATION"

	// CodeContinuity indicates a custody event that does not continue the
	// previous event's destination.
	CodeContinuity Code = "CONTINUITY"

	// CodeIntegrityViolation indicates a stored checksum that no longer
	// matches its recomputed value.
	CodeIntegrityViolation Code = "INTEGRITY_VIOLATION"

	// CodeNotFound indicates the requested entity, link or version does not
	// exist.
	CodeNotFound Code = "NOT_FOUND"
)

// ErrNotFound is the sentinel matched by IsNotFound. Every NotFound error
// wraps it so callers can use errors.Is.
var ErrNotFound = errors.New("not found")

// Error is a coded ledger error with optional structured details.
type Error struct {
	Code    Code
	Message string
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + e.Details[k]
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, ", "))
}

// Is lets errors.Is(err, ErrNotFound) match NotFound errors.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Code == CodeNotFound
}

// Validation builds a validation error.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationField builds a validation error naming the offending field.
func ValidationField(field, format string, args ...any) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: fmt.Sprintf(format, args...),
		Details: map[string]string{"field": field},
	}
}

// NotFound builds a not-found error for the given kind and key.
func NotFound(kind, key string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: kind + " not found",
		Details: map[string]string{"key": key},
	}
}

// ContinuityError reports a custody hand-off that does not match the
// previous event. Expected is the previous destination, Actual the new origin.
type ContinuityError struct {
	Field    string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *ContinuityError) Error() string {
	return fmt.Sprintf("%s: custody %s discontinuity: expected %q, got %q",
		CodeContinuity, e.Field, e.Expected, e.Actual)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return hasCode(err, CodeValidation)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsContinuity reports whether err is a custody continuity error.
func IsContinuity(err error) bool {
	var ce *ContinuityError
	return errors.As(err, &ce)
}

// CodeOf returns the ledger error code for err, or "" for foreign errors.
func CodeOf(err error) Code {
	var ce *ContinuityError
	if errors.As(err, &ce) {
		return CodeContinuity
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, ErrNotFound) {
		return CodeNotFound
	}
	return ""
}

func hasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
