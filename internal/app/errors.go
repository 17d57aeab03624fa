package app

import (
	"fmt"
	"net/http"

	"pinboard/api/internal/store"
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

func notFound(kind store.Kind, id string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", kind), map[string]any{"id": id})
}

func boardNotFound(id string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "board not found", map[string]any{"id": id})
}

// scopeViolation rejects a move into a container that exists but lies
// outside the entity's parent scope.
func scopeViolation(kind store.Kind, containerID string) *DomainError {
	return domainError(http.StatusForbidden, "SCOPE_VIOLATION", fmt.Sprintf("%s cannot move to a container outside its board", kind), map[string]any{"containerId": containerID})
}

func staleVersion(kind store.Kind, id string, expected, actual int) *DomainError {
	return domainError(http.StatusConflict, "STALE_VERSION", fmt.Sprintf("%s was changed by another request", kind), map[string]any{
		"id":              id,
		"expectedVersion": expected,
		"currentVersion":  actual,
	})
}
