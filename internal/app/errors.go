package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"staycal/api/internal/calendar"
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

var kindStatus = map[calendar.Kind]struct {
	status int
	code   string
}{
	calendar.KindValidation:    {http.StatusBadRequest, "VALIDATION_ERROR"},
	calendar.KindConsistency:   {http.StatusConflict, "CONSISTENCY_ERROR"},
	calendar.KindDuplicate:     {http.StatusConflict, "DUPLICATE"},
	calendar.KindReference:     {http.StatusNotFound, "REFERENCE_ERROR"},
	calendar.KindExternalFetch: {http.StatusBadGateway, "EXTERNAL_FETCH_ERROR"},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var calErr *calendar.Error
	if errors.As(err, &calErr) {
		if mapped, ok := kindStatus[calErr.Kind]; ok {
			return mapped.status, mapped.code, calErr.Message, nil
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
