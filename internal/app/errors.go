package app

import (
	"fmt"
	"net/http"
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

// errNotAvailable is the uniform denial for receivers that cannot take a
// swap request right now. It deliberately does not say which precondition
// failed, so requesters cannot probe bans or privacy settings.
func errNotAvailable() *DomainError {
	return domainError(http.StatusConflict, "NOT_AVAILABLE", "this user is not available for swap requests", nil)
}

// errAlreadyProcessed reports a lost transition race: the swap left the
// expected state before this request's update landed.
func errAlreadyProcessed() *DomainError {
	return domainError(http.StatusConflict, "ALREADY_PROCESSED", "this swap request has already been processed", nil)
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func errForbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}
