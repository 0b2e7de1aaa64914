package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error carries the HTTP status of a rejected call so the session layer can
// tell a hard credential rejection from a transient server problem.
type Error struct {
	Status int
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (status %d)", e.Reason, e.Status)
}

func NewError(status int, format string, args ...interface{}) error {
	return &Error{
		Status: status,
		Reason: fmt.Sprintf(format, args...),
	}
}

// IsCredentialRejected reports whether the backend declared the credential
// itself invalid. Such failures are terminal: retrying cannot succeed.
func IsCredentialRejected(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}

func asAPIError(err error, target **Error) bool {
	return errors.As(err, target)
}

// IsBusinessRejection reports a 4xx the caller should render as a message
// (duplicate email on register, bad credentials on login) rather than retry.
func IsBusinessRejection(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= http.StatusBadRequest && apiErr.Status < http.StatusInternalServerError
}
