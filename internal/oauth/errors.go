package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRefreshToken is returned when a refresh is needed but no refresh token is held.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrNoAccessToken is returned when a request is attempted without an access token.
	ErrNoAccessToken = errors.New("no access token available")
)

// AuthError reports a rejected token exchange or refresh, or missing
// credentials. For non-2xx token responses StatusCode and Body are set and
// Err is an *oauth2.RetrieveError.
type AuthError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s failed (%d): %s", e.Op, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	default:
		return e.Op + " failed"
	}
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
