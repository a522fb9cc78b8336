package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

// APIError is the normalized error shape for every failed request.
// Status is 0 when no response was received at all.
type APIError struct {
	Message string
	Status  int
	Data    json.RawMessage
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("request failed: %s", e.Message)
	}
	return fmt.Sprintf("request failed (%d): %s", e.Status, e.Message)
}

// AuthError indicates a 401 on a protected endpoint. The stored
// credential has already been cleared by the time it is returned.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// retryableStatuses is the closed set of server statuses classified as
// transient.
var retryableStatuses = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}
