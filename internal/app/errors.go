package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"filedesk/api/internal/auth"
	"filedesk/api/internal/workflow"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var workflowStatus = map[workflow.Code]int{
	workflow.CodeNoChanges:                http.StatusUnprocessableEntity,
	workflow.CodeProposalOutstanding:      http.StatusConflict,
	workflow.CodeForbidden:                http.StatusForbidden,
	workflow.CodeRecordLocked:             http.StatusConflict,
	workflow.CodeProposalClosed:           http.StatusConflict,
	workflow.CodeSubmitterUnassigned:      http.StatusConflict,
	workflow.CodeNotFound:                 http.StatusNotFound,
	workflow.CodeConflictRetriesExhausted: http.StatusServiceUnavailable,
	workflow.CodeInvalidInput:             http.StatusBadRequest,
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var wfErr *workflow.Error
	if errors.As(err, &wfErr) {
		status, ok := workflowStatus[wfErr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, string(wfErr.Code), wfErr.Message, wfErr.Details
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		return http.StatusBadRequest, string(workflow.CodeInvalidInput), "request failed validation", fields
	}
	if errors.Is(err, auth.ErrMissingToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
