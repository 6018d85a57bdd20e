package flowapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/oauth2"

	"github.com/flowbike/ebike-monitor/internal/oauth"
)

const testBikeID = "3f6d2c1e-8a4b-4c7d-9e0f-1a2b3c4d5e6f"

// fakeCloud serves both the token endpoint and the API under one httptest
// server and counts calls to each.
type fakeCloud struct {
	server *httptest.Server

	tokenCalls atomic.Int32
	apiCalls   atomic.Int32

	// api handles every non-token request.
	api func(w http.ResponseWriter, r *http.Request, call int32)
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	fc := &fakeCloud{}
	fc.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/protocol/openid-connect/token" {
			n := fc.tokenCalls.Add(1)
			_ = r.ParseForm()
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "refreshed-access-" + string(rune('0'+n)),
				"refresh_token": "refresh-token",
				"expires_in":    7200,
			})
			return
		}

		n := fc.apiCalls.Add(1)
		if fc.api == nil {
			http.NotFound(w, r)
			return
		}
		fc.api(w, r, n)
	}))
	t.Cleanup(fc.server.Close)
	return fc
}

func (fc *fakeCloud) client(store *oauth.Store) *Client {
	doer := oauth.NewDoer(fc.server.Client())
	flow := oauth.NewFlow(doer, store, oauth.WithAuthBaseURL(fc.server.URL))
	return NewClient(doer, flow, WithBaseURL(fc.server.URL))
}

func validStore(mock *clock.Mock) *oauth.Store {
	return oauth.NewStore(&oauth2.Token{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		Expiry:       mock.Now().Add(2 * time.Hour),
	}).WithClock(mock)
}

func TestEnsureValidToken(t *testing.T) {
	tests := []struct {
		name        string
		token       func(now time.Time) *oauth2.Token
		wantRefresh int32
		wantErr     error
	}{
		{
			name: "fresh token is left alone",
			token: func(now time.Time) *oauth2.Token {
				return &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: now.Add(time.Hour)}
			},
			wantRefresh: 0,
		},
		{
			name: "token expiring within margin is refreshed",
			token: func(now time.Time) *oauth2.Token {
				return &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: now.Add(9 * time.Minute)}
			},
			wantRefresh: 1,
		},
		{
			name: "expired token is refreshed",
			token: func(now time.Time) *oauth2.Token {
				return &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: now.Add(-time.Hour)}
			},
			wantRefresh: 1,
		},
		{
			name: "unknown expiry with refresh token is refreshed",
			token: func(time.Time) *oauth2.Token {
				return &oauth2.Token{RefreshToken: "r"}
			},
			wantRefresh: 1,
		},
		{
			name: "unknown expiry without refresh token does nothing",
			token: func(time.Time) *oauth2.Token {
				return &oauth2.Token{AccessToken: "a"}
			},
			wantRefresh: 0,
		},
		{
			name: "near expiry without refresh token fails",
			token: func(now time.Time) *oauth2.Token {
				return &oauth2.Token{AccessToken: "a", Expiry: now.Add(time.Minute)}
			},
			wantRefresh: 0,
			wantErr:     oauth.ErrNoRefreshToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := clock.NewMock()
			fc := newFakeCloud(t)
			c := fc.client(oauth.NewStore(tt.token(mock.Now())).WithClock(mock))

			err := c.EnsureValidToken(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("EnsureValidToken() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("EnsureValidToken() error = %v", err)
			}

			if got := fc.tokenCalls.Load(); got != tt.wantRefresh {
				t.Errorf("refresh calls = %d, want %d", got, tt.wantRefresh)
			}
		})
	}
}

func TestTokenLifecycle_ExchangeThenExpiry(t *testing.T) {
	mock := clock.NewMock()
	fc := newFakeCloud(t)

	store := oauth.NewStore(nil).WithClock(mock)
	c := fc.client(store)

	if _, err := c.flow.ExchangeCode(context.Background(), "code", "verifier"); err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if fc.tokenCalls.Load() != 1 {
		t.Fatalf("token calls after exchange = %d, want 1", fc.tokenCalls.Load())
	}

	if err := c.EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken() error = %v", err)
	}
	if fc.tokenCalls.Load() != 1 {
		t.Errorf("EnsureValidToken refreshed a fresh token")
	}

	// 7200s lifetime, move to 5 minutes before expiry.
	mock.Add(7200*time.Second - 5*time.Minute)

	if err := c.EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken() error = %v", err)
	}
	if got := fc.tokenCalls.Load(); got != 2 {
		t.Errorf("token calls = %d, want exactly one refresh", got)
	}

	if err := c.EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken() error = %v", err)
	}
	if got := fc.tokenCalls.Load(); got != 2 {
		t.Errorf("token calls = %d after second check, want 2", got)
	}
}

func TestRequest_RetriesOnceOn401(t *testing.T) {
	mock := clock.NewMock()
	fc := newFakeCloud(t)
	fc.api = func(w http.ResponseWriter, r *http.Request, call int32) {
		if call == 1 {
			if r.Header.Get("Authorization") != "Bearer access-token" {
				t.Errorf("first call Authorization = %q", r.Header.Get("Authorization"))
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer refreshed-access-") {
			t.Errorf("retry Authorization = %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}

	c := fc.client(validStore(mock))

	raw, err := c.Request(context.Background(), http.MethodGet, "/v1/thing", nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if string(raw) != `{"ok":true}` {
		t.Errorf("Request() = %s", raw)
	}
	if fc.apiCalls.Load() != 2 {
		t.Errorf("api calls = %d, want 2", fc.apiCalls.Load())
	}
	if fc.tokenCalls.Load() != 1 {
		t.Errorf("refresh calls = %d, want 1", fc.tokenCalls.Load())
	}
}

func TestRequest_Persistent401(t *testing.T) {
	mock := clock.NewMock()
	fc := newFakeCloud(t)
	fc.api = func(w http.ResponseWriter, r *http.Request, call int32) {
		http.Error(w, "still unauthorized", http.StatusUnauthorized)
	}

	c := fc.client(validStore(mock))

	_, err := c.Request(context.Background(), http.MethodGet, "/v1/thing", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	if fc.apiCalls.Load() != 2 {
		t.Errorf("api calls = %d, want 2", fc.apiCalls.Load())
	}
	if fc.tokenCalls.Load() != 1 {
		t.Errorf("refresh calls = %d, want 1", fc.tokenCalls.Load())
	}
}

func TestRequest_StatusHandling(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantNil    bool
		wantStatus int
	}{
		{name: "ok", status: http.StatusOK, body: `{"a":1}`},
		{name: "not found is absent", status: http.StatusNotFound, body: `{"error":"offline"}`, wantNil: true},
		{name: "no content is absent", status: http.StatusNoContent, wantNil: true},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantStatus: 500},
		{name: "forbidden", status: http.StatusForbidden, body: "nope", wantStatus: 403},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := clock.NewMock()
			fc := newFakeCloud(t)
			fc.api = func(w http.ResponseWriter, r *http.Request, call int32) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}

			raw, err := fc.client(validStore(mock)).Request(context.Background(), http.MethodGet, "/v1/x", nil)

			if tt.wantStatus != 0 {
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("error = %v, want *APIError", err)
				}
				if apiErr.StatusCode != tt.wantStatus || apiErr.Body != tt.body {
					t.Errorf("APIError = %+v", apiErr)
				}
				if apiErr.Method != http.MethodGet || apiErr.Path != "/v1/x" {
					t.Errorf("APIError request = %s %s", apiErr.Method, apiErr.Path)
				}
				return
			}

			if err != nil {
				t.Fatalf("Request() error = %v", err)
			}
			if tt.wantNil != (raw == nil) {
				t.Errorf("Request() = %s, wantNil %v", raw, tt.wantNil)
			}
			if fc.tokenCalls.Load() != 0 {
				t.Errorf("unexpected refresh")
			}
		})
	}
}

func TestRequest_TransportError(t *testing.T) {
	mock := clock.NewMock()
	fc := newFakeCloud(t)
	c := fc.client(validStore(mock))
	fc.server.Close()

	_, err := c.Request(context.Background(), http.MethodGet, "/v1/x", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 0 || apiErr.Err == nil {
		t.Errorf("APIError = %+v, want wrapped transport cause", apiErr)
	}
}

func TestRequest_NoAccessToken(t *testing.T) {
	mock := clock.NewMock()
	fc := newFakeCloud(t)

	_, err := fc.client(oauth.NewStore(nil).WithClock(mock)).Request(context.Background(), http.MethodGet, "/v1/x", nil)

	if !errors.Is(err, oauth.ErrNoAccessToken) || !oauth.IsAuthError(err) {
		t.Fatalf("error = %v, want AuthError wrapping ErrNoAccessToken", err)
	}
	if fc.apiCalls.Load() != 0 {
		t.Errorf("api called without a token")
	}
}

func TestRequest_SendsJSONBody(t *testing.T) {
	mock := clock.NewMock()
	fc := newFakeCloud(t)
	fc.api = func(w http.ResponseWriter, r *http.Request, call int32) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		var in map[string]string
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in["name"] != "commuter" {
			t.Errorf("body = %v, err = %v", in, err)
		}
		_, _ = w.Write([]byte(`{}`))
	}

	_, err := fc.client(validStore(mock)).Request(context.Background(), http.MethodPost, "/v1/x", map[string]string{"name": "commuter"})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
}

func TestEndpoints(t *testing.T) {
	mock := clock.NewMock()
	fc := newFakeCloud(t)

	var paths []string
	fc.api = func(w http.ResponseWriter, r *http.Request, call int32) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/v1/bike-profile/" + testBikeID:
			_, _ = w.Write([]byte(`{"data":{"id":"` + testBikeID + `"}}`))
		case "/v1/state-of-charge/" + testBikeID:
			http.NotFound(w, r)
		default:
			http.Error(w, "unexpected", http.StatusTeapot)
		}
	}

	c := fc.client(validStore(mock))

	profile, err := c.GetBikeProfile(context.Background(), testBikeID)
	if err != nil || profile == nil {
		t.Fatalf("GetBikeProfile() = %s, %v", profile, err)
	}

	soc, err := c.GetStateOfCharge(context.Background(), testBikeID)
	if err != nil {
		t.Fatalf("GetStateOfCharge() error = %v", err)
	}
	if soc != nil {
		t.Errorf("GetStateOfCharge() = %s, want absent", soc)
	}

	if len(paths) != 2 {
		t.Errorf("paths = %v", paths)
	}
}

func TestListBikes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCount int
		wantErr   bool
	}{
		{
			name:      "two bikes",
			status:    http.StatusOK,
			body:      `{"data":[{"id":"b1","attributes":{"brandName":"Cube"}},{"id":"b2","attributes":{}}]}`,
			wantCount: 2,
		},
		{name: "no data key", status: http.StatusOK, body: `{}`, wantCount: 0},
		{name: "not found", status: http.StatusNotFound, wantCount: 0},
		{name: "malformed", status: http.StatusOK, body: `{"data":{}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := clock.NewMock()
			fc := newFakeCloud(t)
			fc.api = func(w http.ResponseWriter, r *http.Request, call int32) {
				if r.URL.Path != "/v1/bike-profile" {
					http.Error(w, "unexpected path", http.StatusTeapot)
					return
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}

			bikes, err := fc.client(validStore(mock)).ListBikes(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("ListBikes() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if bikes == nil || len(bikes) != tt.wantCount {
				t.Errorf("ListBikes() = %v, want %d bikes", bikes, tt.wantCount)
			}
		})
	}
}
