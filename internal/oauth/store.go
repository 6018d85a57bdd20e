package oauth

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/oauth2"
)

// Store holds the credentials of a single bike. Every update replaces the
// access token, refresh token and expiry together, so readers never see a
// token paired with a stale expiry. It performs no I/O; persistence is left to
// whoever registers an OnChange hook.
type Store struct {
	clock clock.Clock
	tok   atomic.Pointer[oauth2.Token]

	mu    sync.Mutex
	hooks []func(*oauth2.Token)
}

// NewStore creates a store seeded with initial credentials, which may be nil.
// A zero Expiry in initial means the expiry is unknown.
func NewStore(initial *oauth2.Token) *Store {
	s := &Store{clock: clock.New()}
	if initial != nil {
		s.tok.Store(cloneToken(initial))
	}
	return s
}

// WithClock replaces the clock used for expiry math, including the absolute
// expiry a Flow computes for tokens it writes here. Intended for tests.
func (s *Store) WithClock(c clock.Clock) *Store {
	s.clock = c
	return s
}

// Token returns a copy of the current credentials, or nil when none are held.
func (s *Store) Token() *oauth2.Token {
	if t := s.tok.Load(); t != nil {
		return cloneToken(t)
	}
	return nil
}

// AccessToken returns the current access token or "".
func (s *Store) AccessToken() string {
	if t := s.tok.Load(); t != nil {
		return t.AccessToken
	}
	return ""
}

// RefreshToken returns the current refresh token or "".
func (s *Store) RefreshToken() string {
	if t := s.tok.Load(); t != nil {
		return t.RefreshToken
	}
	return ""
}

// ExpiresIn reports the time left until the access token expires. ok is
// false when no expiry is known.
func (s *Store) ExpiresIn() (remaining time.Duration, ok bool) {
	t := s.tok.Load()
	if t == nil || t.Expiry.IsZero() {
		return 0, false
	}
	return t.Expiry.Sub(s.clock.Now()), true
}

// Set atomically replaces the credentials and notifies OnChange hooks.
func (s *Store) Set(t *oauth2.Token) {
	if t == nil {
		return
	}
	snapshot := cloneToken(t)
	s.tok.Store(snapshot)

	s.mu.Lock()
	hooks := append([]func(*oauth2.Token){}, s.hooks...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(cloneToken(snapshot))
	}
}

// OnChange registers fn to be called with a copy of the credentials after
// every successful exchange or refresh.
func (s *Store) OnChange(fn func(*oauth2.Token)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

func cloneToken(t *oauth2.Token) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}
