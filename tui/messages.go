package tui

import (
	"time"

	"github.com/flowbike/ebike-monitor/internal/reading"
)

// Bike is one entry of the account's bike list.
type Bike struct {
	ID   string
	Name string
}

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgTokensFound signals that stored credentials were loaded.
type MsgTokensFound struct{ Path string }

// MsgTokensNotFound signals that no stored credentials exist.
type MsgTokensNotFound struct{ Path string }

// MsgLoginURL carries the authorization URL the user has to open.
type MsgLoginURL struct{ URL string }

// MsgLoginSuccess signals that the authorization code was exchanged.
type MsgLoginSuccess struct{}

// MsgBikes carries the bikes registered on the account.
type MsgBikes struct{ Bikes []Bike }

// MsgBikeSelected signals which bike will be monitored.
type MsgBikeSelected struct{ Bike Bike }

// MsgTokenRefreshed signals that the access token was renewed.
type MsgTokenRefreshed struct{ ExpiresIn time.Duration }

// MsgTokenSaved signals that credentials were written to disk.
type MsgTokenSaved struct{ Path string }

// MsgTokenSaveFailed signals that writing credentials failed.
type MsgTokenSaveFailed struct{ Err error }

// MsgMonitoring signals the start of the polling loop.
type MsgMonitoring struct{ Interval time.Duration }

// MsgFetching signals that a poll cycle started.
type MsgFetching struct{}

// MsgReading carries the result of a successful poll cycle.
type MsgReading struct {
	Reading *reading.Reading
	At      time.Time
}

// MsgCycleFailed signals that a poll cycle failed.
type MsgCycleFailed struct{ Err error }

// MsgStatusSaved signals that a reading was written to path.
type MsgStatusSaved struct {
	Path string
	Live bool
}

// MsgStatusSaveFailed signals that writing a reading failed.
type MsgStatusSaveFailed struct{ Err error }

// MsgNextCycle carries the time of the next poll.
type MsgNextCycle struct{ At time.Time }

// MsgStopped signals that monitoring was interrupted.
type MsgStopped struct{}

// MsgFatal signals a fatal error that should terminate the run.
type MsgFatal struct{ Err error }
