package app

import (
	"errors"
	"net/http"

	"approvaldesk/internal/approval"
	"approvaldesk/internal/auth"
)

// requestError is an HTTP-layer input problem, reported before the service
// is called.
type requestError struct {
	status  int
	code    string
	message string
	details any
}

func (e *requestError) Error() string {
	return e.code + ": " + e.message
}

func badRequest(message string, details any) error {
	return &requestError{status: http.StatusBadRequest, code: "BAD_REQUEST", message: message, details: details}
}

func mapError(err error) (status int, code, message string, details any) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.status, reqErr.code, reqErr.message, reqErr.details
	}
	var domainErr *approval.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, errSearchUnavailable) {
		return http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
