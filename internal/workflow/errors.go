package workflow

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeNoChanges                Code = "NO_CHANGES"
	CodeProposalOutstanding      Code = "PROPOSAL_OUTSTANDING"
	CodeForbidden                Code = "FORBIDDEN"
	CodeRecordLocked             Code = "RECORD_LOCKED"
	CodeProposalClosed           Code = "PROPOSAL_CLOSED"
	CodeSubmitterUnassigned      Code = "SUBMITTER_UNASSIGNED"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeConflictRetriesExhausted Code = "CONFLICT_RETRIES_EXHAUSTED"
	CodeInvalidInput             Code = "INVALID_INPUT"
)

// Error is returned to the initiating actor. Message is meant to be shown as is.
type Error struct {
	Code    Code
	Message string
	Details any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the workflow code carried by err, or "" for unclassified errors.
func CodeOf(err error) Code {
	var wfErr *Error
	if errors.As(err, &wfErr) {
		return wfErr.Code
	}
	return ""
}
