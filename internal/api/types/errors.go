package types

import (
	"errors"
	"net/http"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

func FromAppError(err error) *APIError {
	if err == nil {
		return nil
	}
	var e *appErr.AppError
	if errors.As(err, &e) {
		out := &APIError{Code: string(e.Code), Message: e.Message}
		if e.Code == appErr.CodeInvalid && e.Err != nil {
			out.Details = e.Err.Error()
		}
		return out
	}
	return &APIError{Code: string(appErr.CodeUnknown), Message: err.Error()}
}

// StatusOf maps an error code to the HTTP status reported for it.
func StatusOf(err error) int {
	switch appErr.CodeOf(err) {
	case appErr.CodeInvalid:
		return http.StatusBadRequest
	case appErr.CodeNotFound:
		return http.StatusNotFound
	case appErr.CodeConflict:
		return http.StatusConflict
	case appErr.CodeUnauthorized:
		return http.StatusUnauthorized
	case appErr.CodeUnavailable:
		return http.StatusServiceUnavailable
	case appErr.CodeDeadline:
		return http.StatusGatewayTimeout
	case appErr.CodeRolledBack:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
