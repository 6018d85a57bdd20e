package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/flowbike/ebike-monitor/internal/reading"
)

// Displayer abstracts all user-facing output of the CLI modes.
type Displayer interface {
	Banner()
	TokensFound(path string)
	TokensNotFound(path string)
	LoginURL(url string)
	LoginSuccess()
	Bikes(bikes []Bike)
	BikeSelected(bike Bike)
	TokenRefreshed(expiresIn time.Duration)
	TokenSaved(path string)
	TokenSaveFailed(err error)
	Monitoring(interval time.Duration)
	Fetching()
	Reading(r *reading.Reading, at time.Time)
	CycleFailed(err error)
	StatusSaved(path string, live bool)
	StatusSaveFailed(err error)
	NextCycle(at time.Time)
	Stopped()
	Fatal(err error)
}

var rule = strings.Repeat("=", 70)

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, rule)
	fmt.Fprintln(p.w, "EBIKE - BATTERY STATUS MONITOR")
	fmt.Fprintln(p.w, rule)
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) TokensFound(path string) {
	fmt.Fprintf(p.w, "Loaded tokens from %s\n", path)
}

func (p *PlainDisplayer) TokensNotFound(path string) {
	fmt.Fprintf(p.w, "No tokens found in %s, run the login mode first\n", path)
}

func (p *PlainDisplayer) LoginURL(url string) {
	fmt.Fprintln(p.w, "Open this link in a browser and sign in:")
	fmt.Fprintln(p.w, url)
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, "Then paste the redirect URL (or just the code parameter) below.")
}

func (p *PlainDisplayer) LoginSuccess() {
	fmt.Fprintln(p.w, "Login successful!")
}

func (p *PlainDisplayer) Bikes(bikes []Bike) {
	if len(bikes) == 0 {
		fmt.Fprintln(p.w, "No bikes registered on this account")
		return
	}
	fmt.Fprintf(p.w, "Found %d bike(s):\n", len(bikes))
	for _, b := range bikes {
		fmt.Fprintf(p.w, "  %s  %s\n", b.ID, b.Name)
	}
}

func (p *PlainDisplayer) BikeSelected(bike Bike) {
	fmt.Fprintf(p.w, "Monitoring %s (%s)\n", bike.Name, bike.ID)
}

func (p *PlainDisplayer) TokenRefreshed(expiresIn time.Duration) {
	fmt.Fprintf(p.w, "Access token refreshed, expires in %s\n", expiresIn.Round(time.Second))
}

func (p *PlainDisplayer) TokenSaved(path string) {
	fmt.Fprintf(p.w, "Tokens saved to %s\n", path)
}

func (p *PlainDisplayer) TokenSaveFailed(err error) {
	fmt.Fprintf(p.w, "Warning: Failed to save tokens: %v\n", err)
}

func (p *PlainDisplayer) Monitoring(interval time.Duration) {
	fmt.Fprintln(p.w, "Starting battery monitor...")
	fmt.Fprintf(p.w, "Checking every %s\n", interval)
	fmt.Fprintln(p.w, "Press Ctrl+C to stop")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) Fetching() {}

func (p *PlainDisplayer) Reading(r *reading.Reading, at time.Time) {
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, rule)
	fmt.Fprintf(p.w, "Battery Status @ %s\n", at.Format(time.RFC3339))
	fmt.Fprintln(p.w, rule)
	if r.LiveDataAvailable {
		fmt.Fprintln(p.w, "LIVE DATA AVAILABLE")
	} else {
		fmt.Fprintln(p.w, "No live data (bike offline)")
	}
	fmt.Fprintln(p.w)
	fmt.Fprint(p.w, formatRows(readingRows(r)))
	fmt.Fprintln(p.w, rule)
}

func (p *PlainDisplayer) CycleFailed(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

func (p *PlainDisplayer) StatusSaved(path string, live bool) {
	if live {
		fmt.Fprintf(p.w, "Live data saved to %s\n", path)
		return
	}
	fmt.Fprintf(p.w, "Status saved to %s (no live data yet)\n", path)
}

func (p *PlainDisplayer) StatusSaveFailed(err error) {
	fmt.Fprintf(p.w, "Warning: Failed to save status: %v\n", err)
}

func (p *PlainDisplayer) NextCycle(time.Time) {}

func (p *PlainDisplayer) Stopped() {
	fmt.Fprintln(p.w, "\nMonitoring stopped.")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                                 {}
func (NoopDisplayer) TokensFound(_ string)                    {}
func (NoopDisplayer) TokensNotFound(_ string)                 {}
func (NoopDisplayer) LoginURL(_ string)                       {}
func (NoopDisplayer) LoginSuccess()                           {}
func (NoopDisplayer) Bikes(_ []Bike)                          {}
func (NoopDisplayer) BikeSelected(_ Bike)                     {}
func (NoopDisplayer) TokenRefreshed(_ time.Duration)          {}
func (NoopDisplayer) TokenSaved(_ string)                     {}
func (NoopDisplayer) TokenSaveFailed(_ error)                 {}
func (NoopDisplayer) Monitoring(_ time.Duration)              {}
func (NoopDisplayer) Fetching()                               {}
func (NoopDisplayer) Reading(_ *reading.Reading, _ time.Time) {}
func (NoopDisplayer) CycleFailed(_ error)                     {}
func (NoopDisplayer) StatusSaved(_ string, _ bool)            {}
func (NoopDisplayer) StatusSaveFailed(_ error)                {}
func (NoopDisplayer) NextCycle(_ time.Time)                   {}
func (NoopDisplayer) Stopped()                                {}
func (NoopDisplayer) Fatal(_ error)                           {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) TokensFound(path string) {
	t.p.Send(MsgTokensFound{Path: path})
}

func (t *ProgramDisplayer) TokensNotFound(path string) {
	t.p.Send(MsgTokensNotFound{Path: path})
}

func (t *ProgramDisplayer) LoginURL(url string) {
	t.p.Send(MsgLoginURL{URL: url})
}

func (t *ProgramDisplayer) LoginSuccess() {
	t.p.Send(MsgLoginSuccess{})
}

func (t *ProgramDisplayer) Bikes(bikes []Bike) {
	t.p.Send(MsgBikes{Bikes: bikes})
}

func (t *ProgramDisplayer) BikeSelected(bike Bike) {
	t.p.Send(MsgBikeSelected{Bike: bike})
}

func (t *ProgramDisplayer) TokenRefreshed(expiresIn time.Duration) {
	t.p.Send(MsgTokenRefreshed{ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) TokenSaved(path string) {
	t.p.Send(MsgTokenSaved{Path: path})
}

func (t *ProgramDisplayer) TokenSaveFailed(err error) {
	t.p.Send(MsgTokenSaveFailed{Err: err})
}

func (t *ProgramDisplayer) Monitoring(interval time.Duration) {
	t.p.Send(MsgMonitoring{Interval: interval})
}

func (t *ProgramDisplayer) Fetching() {
	t.p.Send(MsgFetching{})
}

func (t *ProgramDisplayer) Reading(r *reading.Reading, at time.Time) {
	t.p.Send(MsgReading{Reading: r, At: at})
}

func (t *ProgramDisplayer) CycleFailed(err error) {
	t.p.Send(MsgCycleFailed{Err: err})
}

func (t *ProgramDisplayer) StatusSaved(path string, live bool) {
	t.p.Send(MsgStatusSaved{Path: path, Live: live})
}

func (t *ProgramDisplayer) StatusSaveFailed(err error) {
	t.p.Send(MsgStatusSaveFailed{Err: err})
}

func (t *ProgramDisplayer) NextCycle(at time.Time) {
	t.p.Send(MsgNextCycle{At: at})
}

func (t *ProgramDisplayer) Stopped() {
	t.p.Send(MsgStopped{})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
