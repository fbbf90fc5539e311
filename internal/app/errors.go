package app

import (
	"database/sql"
	"errors"
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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func notFoundError(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func conflictError(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

// notFoundAs converts a store miss into a DomainError with message and
// passes every other error through.
func notFoundAs(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError(message)
	}
	return err
}
