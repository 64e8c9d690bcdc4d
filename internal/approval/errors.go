package approval

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConflict           = errors.New("pending approval exists")
	ErrInvalidState       = errors.New("request is not pending")
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrUnresolvedResource = errors.New("unresolved resource")
	ErrForbidden          = errors.New("forbidden")
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	kind    error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.kind
}

func domainError(kind error, status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
		kind:    kind,
	}
}

func ConflictError(approvableType, approvableID string) *DomainError {
	return domainError(ErrConflict, http.StatusConflict, "CONFLICT",
		"a pending approval request already exists for this record",
		map[string]any{"approvableType": approvableType, "approvableId": approvableID})
}

func InvalidStateError(requestID string, status Status) *DomainError {
	return domainError(ErrInvalidState, http.StatusConflict, "INVALID_STATE",
		fmt.Sprintf("request is %s, only pending requests can be decided", status),
		map[string]any{"requestId": requestID, "status": status})
}

func ValidationError(message string, details any) *DomainError {
	return domainError(ErrValidation, http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func NotFoundError(what, id string) *DomainError {
	return domainError(ErrNotFound, http.StatusNotFound, "NOT_FOUND", what+" not found",
		map[string]any{"id": id})
}

func UnresolvedResourceError(approvableType string) *DomainError {
	return domainError(ErrUnresolvedResource, http.StatusUnprocessableEntity, "UNRESOLVED_RESOURCE",
		"no resource is registered for "+approvableType,
		map[string]any{"approvableType": approvableType})
}

func ForbiddenError(capability string) *DomainError {
	return domainError(ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Forbidden",
		map[string]any{"capability": capability})
}
