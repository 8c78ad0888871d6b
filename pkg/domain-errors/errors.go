// Package domainerrors carries coded, transport-agnostic errors from services to
// handlers. Every error has a stable machine-readable Code and a human-readable
// message; handlers translate codes to status codes in one place (httputil).
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is the stable kind of a domain error.
type Code string

const (
	// Generic request problems.
	CodeBadRequest   Code = "bad_request"
	CodeValidation   Code = "validation_error"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeTimeout      Code = "timeout"
	CodeRateLimited  Code = "rate_limited"
	CodeInternal     Code = "internal_error"

	// CodeInvariantViolation is raised by aggregates when a constructor or mutation
	// would break an invariant. Services usually translate it before returning.
	CodeInvariantViolation Code = "invariant_violation"

	// Submission validation.
	CodeInvalidFormat     Code = "invalid_format"
	CodeIncompleteAddress Code = "incomplete_address"
	CodeDocumentRejected  Code = "document_rejected"

	// Lifecycle.
	CodeDuplicateIdentity Code = "duplicate_identity"
	CodeIllegalTransition Code = "illegal_transition"
	CodeAlreadyDecided    Code = "already_decided"
	CodeProofNotDurable   Code = "proof_not_durable"

	// Infrastructure.
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeLedgerUnavailable  Code = "ledger_unavailable"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error without a cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying cause. A nil cause yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code in the chain, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost coded error in the chain has the given code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// Message returns the human-readable message of the outermost coded error.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsValidation reports whether err is one of the locally recoverable input errors.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case CodeBadRequest, CodeValidation, CodeInvalidFormat, CodeIncompleteAddress, CodeDocumentRejected:
		return err != nil
	}
	return false
}

// Multi aggregates several coded errors of the same kind, e.g. one rejection per
// offending document.
type Multi struct {
	Code   Code
	Errors []error
}

func (m *Multi) Error() string {
	msg := fmt.Sprintf("%s: %d problem(s)", m.Code, len(m.Errors))
	for _, err := range m.Errors {
		msg += "; " + Message(err)
	}
	return msg
}

func (m *Multi) Unwrap() []error {
	return m.Errors
}

// Join returns nil for no errors, the single error for one, or a coded aggregate.
// The aggregate is itself wrapped in *Error so HasCode and CodeOf see the code.
func Join(code Code, errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	multi := &Multi{Code: code, Errors: kept}
	return &Error{Code: code, Message: multi.Error(), Err: multi}
}
