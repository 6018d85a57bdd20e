package coordinator

import (
	"errors"
	"fmt"

	"github.com/flowbike/ebike-monitor/internal/oauth"
	"github.com/flowbike/ebike-monitor/internal/reading"
)

// ErrProfileUnavailable is returned when the API has no profile for the bike.
var ErrProfileUnavailable = errors.New("bike profile unavailable")

// Kind classifies a failed refresh cycle.
type Kind string

const (
	KindAuth               Kind = "auth"
	KindAPI                Kind = "api"
	KindProfileUnavailable Kind = "profile_unavailable"
	KindData               Kind = "data"
)

// Kinds lists every failure kind.
var Kinds = []Kind{KindAuth, KindAPI, KindProfileUnavailable, KindData}

// UpdateFailed is the single error a failed cycle surfaces.
type UpdateFailed struct {
	Kind Kind
	Err  error
}

func (e *UpdateFailed) Error() string {
	return fmt.Sprintf("refresh failed (%s): %v", e.Kind, e.Err)
}

func (e *UpdateFailed) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or "" when err is nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var failed *UpdateFailed
	if errors.As(err, &failed) {
		return failed.Kind
	}

	switch {
	case errors.Is(err, ErrProfileUnavailable):
		return KindProfileUnavailable
	case oauth.IsAuthError(err):
		return KindAuth
	case reading.IsDataError(err):
		return KindData
	default:
		return KindAPI
	}
}

func failed(err error) *UpdateFailed {
	return &UpdateFailed{Kind: KindOf(err), Err: err}
}
