package flowapi

import (
	"errors"
	"fmt"
)

// APIError reports a non-2xx response other than 401 (handled by refresh) and
// 404 (absent), or a transport failure. For transport failures StatusCode is
// zero and Err holds the cause.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed (%d): %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Method, e.Path, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsAPIError reports whether err is or wraps an *APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
