// Package coordinator runs the per-bike refresh cycle and holds the last good
// reading for consumers.
package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/flowbike/ebike-monitor/internal/flowapi"
	"github.com/flowbike/ebike-monitor/internal/log"
	"github.com/flowbike/ebike-monitor/internal/reading"
)

// DefaultInterval is the polling interval used by hosts that do not pick one.
// The connected module reports every five minutes.
const DefaultInterval = 300 * time.Second

// Fetcher is the subset of the API client a cycle needs.
type Fetcher interface {
	GetBikeProfile(ctx context.Context, bikeID string) (json.RawMessage, error)
	GetStateOfCharge(ctx context.Context, bikeID string) (json.RawMessage, error)
}

// State is the coordinator's refresh state.
type State int

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

// Snapshot is what consumers observe after a cycle.
type Snapshot struct {
	BikeID            string
	BikeName          string
	Reading           *reading.Reading
	LastUpdateSuccess bool
	LastSuccess       time.Time
	LastAttempt       time.Time
	Err               error
}

// Coordinator refreshes one bike. It owns no goroutines; a host scheduler
// calls Refresh.
type Coordinator struct {
	api      Fetcher
	bikeID   string
	bikeName string
	clock    clock.Clock
	log      log.Logger

	// cycle serializes Refresh calls.
	cycle sync.Mutex

	mu        sync.RWMutex
	state     State
	snap      Snapshot
	listeners []func(Snapshot)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(co *Coordinator) { co.log = log.OrNop(l) }
}

// New creates a coordinator for bikeID.
func New(api Fetcher, bikeID, bikeName string, opts ...Option) *Coordinator {
	c := &Coordinator{
		api:      api,
		bikeID:   bikeID,
		bikeName: bikeName,
		clock:    clock.New(),
		log:      log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithValues("bike", bikeID)
	c.snap = Snapshot{BikeID: bikeID, BikeName: bikeName}
	return c
}

// OnUpdate registers fn to be called after every cycle, successful or not.
func (c *Coordinator) OnUpdate(fn func(Snapshot)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Refresh runs one cycle: profile (mandatory), then state of charge (best
// effort), then reconciliation. On failure the previous reading is kept and
// an *UpdateFailed is returned.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.cycle.Lock()
	defer c.cycle.Unlock()

	c.setState(Refreshing)
	r, err := c.fetch(ctx)

	now := c.clock.Now()
	c.mu.Lock()
	c.state = Idle
	c.snap.LastAttempt = now
	if err != nil {
		c.snap.LastUpdateSuccess = false
		c.snap.Err = err
	} else {
		c.snap.Reading = r
		c.snap.LastUpdateSuccess = true
		c.snap.LastSuccess = now
		c.snap.Err = nil
	}
	snap := c.snap
	listeners := append([]func(Snapshot){}, c.listeners...)
	c.mu.Unlock()

	if err != nil {
		c.log.Error(err, "refresh failed", "kind", string(err.Kind))
	} else {
		c.log.Debug("refresh succeeded", "live", r.LiveDataAvailable)
	}

	for _, fn := range listeners {
		fn(snap)
	}

	if err != nil {
		return err
	}
	return nil // avoid returning a typed nil *UpdateFailed
}

func (c *Coordinator) fetch(ctx context.Context) (*reading.Reading, *UpdateFailed) {
	profile, err := c.api.GetBikeProfile(ctx, c.bikeID)
	if err != nil {
		return nil, failed(err)
	}
	if profile == nil {
		return nil, failed(ErrProfileUnavailable)
	}

	live, err := c.api.GetStateOfCharge(ctx, c.bikeID)
	switch {
	case err == nil:
	case flowapi.IsAPIError(err):
		c.log.Debug("live state of charge not available", "error", err)
		live = nil
	default:
		return nil, failed(err)
	}

	r, err := reading.Combine(profile, live)
	if err != nil {
		return nil, failed(err)
	}
	return r, nil
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State reports whether a cycle is in flight.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Snapshot returns the current view.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Data returns the last good reading, or nil before the first success.
func (c *Coordinator) Data() *reading.Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Reading
}

// LastUpdateSuccess reports whether the most recent cycle succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.LastUpdateSuccess
}

// LastSuccess returns the time of the last successful cycle.
func (c *Coordinator) LastSuccess() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.LastSuccess
}

func (c *Coordinator) BikeID() string   { return c.bikeID }
func (c *Coordinator) BikeName() string { return c.bikeName }
