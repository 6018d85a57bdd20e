package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/oauth2"
)

var urlSafeAlphabet = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func newTokenServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != tokenPath {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestGeneratePKCEPair(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		verifier, challenge := GeneratePKCEPair()

		if len(verifier) < 43 || len(verifier) > 128 {
			t.Fatalf("verifier length = %d, want 43..128", len(verifier))
		}
		if !urlSafeAlphabet.MatchString(verifier) {
			t.Fatalf("verifier %q contains characters outside the URL-safe alphabet", verifier)
		}

		sum := sha256.Sum256([]byte(verifier))
		want := base64.RawURLEncoding.EncodeToString(sum[:])
		if challenge != want {
			t.Errorf("challenge = %q, want %q", challenge, want)
		}

		if seen[verifier] {
			t.Fatalf("verifier %q generated twice", verifier)
		}
		seen[verifier] = true
	}
}

func TestAuthorizationURL(t *testing.T) {
	flow := NewFlow(nil, NewStore(nil), WithAuthBaseURL("https://auth.example.com/realms/obc/"))
	_, challenge := GeneratePKCEPair()

	first, err := url.Parse(flow.AuthorizationURL(challenge))
	if err != nil {
		t.Fatalf("failed to parse authorization URL: %v", err)
	}

	if got := first.Scheme + "://" + first.Host + first.Path; got != "https://auth.example.com/realms/obc"+authPath {
		t.Errorf("endpoint = %s", got)
	}

	q := first.Query()
	want := map[string]string{
		"client_id":             ClientID,
		"redirect_uri":          RedirectURL,
		"response_type":         "code",
		"scope":                 "openid offline_access",
		"code_challenge":        challenge,
		"code_challenge_method": "S256",
		"kc_idp_hint":           "skid",
		"prompt":                "login",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("query %s = %q, want %q", k, q.Get(k), v)
		}
	}

	for _, k := range []string{"state", "nonce"} {
		if v := q.Get(k); len(v) < 43 || !urlSafeAlphabet.MatchString(v) {
			t.Errorf("query %s = %q, want 43+ URL-safe characters", k, v)
		}
	}

	second, _ := url.Parse(flow.AuthorizationURL(challenge))
	if second.Query().Get("state") == q.Get("state") {
		t.Error("state reused across authorization URLs")
	}
	if second.Query().Get("nonce") == q.Get("nonce") {
		t.Error("nonce reused across authorization URLs")
	}
}

func TestExchangeCode_Success(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	var calls atomic.Int32
	server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		checks := map[string]string{
			"grant_type":    "authorization_code",
			"client_id":     ClientID,
			"code":          "auth-code",
			"code_verifier": "the-verifier",
			"redirect_uri":  RedirectURL,
		}
		for k, v := range checks {
			if r.FormValue(k) != v {
				http.Error(w, "bad "+k, http.StatusBadRequest)
				return
			}
		}
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
			http.Error(w, "bad content type", http.StatusBadRequest)
			return
		}

		writeJSON(w, map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})

	var hooked atomic.Int32
	store := NewStore(nil).WithClock(mock)
	store.OnChange(func(*oauth2.Token) { hooked.Add(1) })

	flow := NewFlow(NewDoer(server.Client()), store, WithAuthBaseURL(server.URL))

	tok, err := flow.ExchangeCode(context.Background(), "auth-code", "the-verifier")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if tok.AccessToken != "access-1" || tok.RefreshToken != "refresh-1" {
		t.Errorf("token = %+v", tok)
	}
	if want := mock.Now().Add(time.Hour); !tok.Expiry.Equal(want) {
		t.Errorf("Expiry = %v, want %v", tok.Expiry, want)
	}
	if store.AccessToken() != "access-1" || store.RefreshToken() != "refresh-1" {
		t.Error("store not updated after exchange")
	}
	if calls.Load() != 1 {
		t.Errorf("token endpoint called %d times, want 1", calls.Load())
	}
	if hooked.Load() != 1 {
		t.Errorf("OnChange called %d times, want 1", hooked.Load())
	}
}

func TestExchangeCode_DefaultExpiry(t *testing.T) {
	mock := clock.NewMock()
	server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
		})
	})

	store := NewStore(nil).WithClock(mock)
	flow := NewFlow(NewDoer(server.Client()), store, WithAuthBaseURL(server.URL))

	if _, err := flow.ExchangeCode(context.Background(), "code", "verifier"); err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	remaining, ok := store.ExpiresIn()
	if !ok {
		t.Fatal("expiry unknown after exchange")
	}
	if remaining != DefaultExpiresIn {
		t.Errorf("ExpiresIn() = %v, want %v", remaining, DefaultExpiresIn)
	}
}

func TestRefresh_ExpiryFollowsStoreClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC))
	server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"access_token": "access-2", "expires_in": 3600})
	})

	store := NewStore(&oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh-1"}).WithClock(mock)
	flow := NewFlow(NewDoer(server.Client()), store, WithAuthBaseURL(server.URL))

	mock.Add(3 * time.Hour)
	tok, err := flow.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if want := mock.Now().Add(time.Hour); !tok.Expiry.Equal(want) {
		t.Errorf("Expiry = %v, want %v", tok.Expiry, want)
	}
	if remaining, ok := store.ExpiresIn(); !ok || remaining != time.Hour {
		t.Errorf("ExpiresIn() = %v, %v, want 1h", remaining, ok)
	}
}

func TestExchangeCode_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{
			name:       "invalid grant",
			status:     http.StatusBadRequest,
			body:       `{"error":"invalid_grant","error_description":"Code not valid"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "server error",
			status:     http.StatusInternalServerError,
			body:       `upstream down`,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:   "missing access token",
			status: http.StatusOK,
			body:   `{"refresh_token":"r","expires_in":60}`,
		},
		{
			name:   "malformed json",
			status: http.StatusOK,
			body:   `{"access_token":`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			store := NewStore(nil)
			flow := NewFlow(NewDoer(server.Client()), store, WithAuthBaseURL(server.URL))

			_, err := flow.ExchangeCode(context.Background(), "code", "verifier")
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("error type = %T, want *AuthError", err)
			}
			if authErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", authErr.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != 0 {
				if authErr.Body != tt.body {
					t.Errorf("Body = %q, want %q", authErr.Body, tt.body)
				}
				var retrieveErr *oauth2.RetrieveError
				if !errors.As(err, &retrieveErr) {
					t.Error("expected wrapped *oauth2.RetrieveError")
				}
			}
			if store.Token() != nil {
				t.Error("store modified by failed exchange")
			}
		})
	}
}

func TestExchangeCode_TransportError(t *testing.T) {
	server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {})
	addr := server.URL
	server.Close()

	flow := NewFlow(NewDoer(&http.Client{Timeout: time.Second}), NewStore(nil), WithAuthBaseURL(addr))

	_, err := flow.ExchangeCode(context.Background(), "code", "verifier")
	if !IsAuthError(err) {
		t.Fatalf("error = %v, want *AuthError", err)
	}
}

func TestRefresh_RotationMode(t *testing.T) {
	tests := []struct {
		name                 string
		responseRefreshToken string
		expectedRefreshToken string
	}{
		{
			name:                 "server rotates refresh token",
			responseRefreshToken: "new-refresh-token",
			expectedRefreshToken: "new-refresh-token",
		},
		{
			name:                 "server omits refresh token",
			responseRefreshToken: "",
			expectedRefreshToken: "old-refresh-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.FormValue("grant_type") != "refresh_token" ||
					r.FormValue("refresh_token") != "old-refresh-token" ||
					r.FormValue("client_id") != ClientID {
					http.Error(w, "bad request", http.StatusBadRequest)
					return
				}

				response := map[string]any{
					"access_token": "new-access-token",
					"token_type":   "Bearer",
					"expires_in":   3600,
				}
				if tt.responseRefreshToken != "" {
					response["refresh_token"] = tt.responseRefreshToken
				}
				writeJSON(w, response)
			})

			store := NewStore(&oauth2.Token{AccessToken: "old-access", RefreshToken: "old-refresh-token"})
			flow := NewFlow(NewDoer(server.Client()), store, WithAuthBaseURL(server.URL))

			tok, err := flow.Refresh(context.Background())
			if err != nil {
				t.Fatalf("Refresh() error = %v", err)
			}
			if tok.RefreshToken != tt.expectedRefreshToken {
				t.Errorf("RefreshToken = %q, want %q", tok.RefreshToken, tt.expectedRefreshToken)
			}
			if store.AccessToken() != "new-access-token" {
				t.Errorf("stored AccessToken = %q", store.AccessToken())
			}
			if store.RefreshToken() != tt.expectedRefreshToken {
				t.Errorf("stored RefreshToken = %q, want %q", store.RefreshToken(), tt.expectedRefreshToken)
			}
			if _, ok := store.ExpiresIn(); !ok {
				t.Error("expiry unknown after refresh")
			}
		})
	}
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	var calls atomic.Int32
	server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	flow := NewFlow(NewDoer(server.Client()), NewStore(&oauth2.Token{AccessToken: "a"}), WithAuthBaseURL(server.URL))

	_, err := flow.Refresh(context.Background())
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("error = %v, want ErrNoRefreshToken", err)
	}
	if !IsAuthError(err) {
		t.Error("expected *AuthError")
	}
	if calls.Load() != 0 {
		t.Errorf("token endpoint called %d times, want 0", calls.Load())
	}
}

func TestRefresh_Rejected(t *testing.T) {
	server := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token is not active"}`))
	})

	store := NewStore(&oauth2.Token{AccessToken: "old", RefreshToken: "revoked"})
	flow := NewFlow(NewDoer(server.Client()), store, WithAuthBaseURL(server.URL))

	_, err := flow.Refresh(context.Background())

	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		t.Fatalf("error = %v, want wrapped *oauth2.RetrieveError", err)
	}
	if retrieveErr.ErrorCode != "invalid_grant" {
		t.Errorf("ErrorCode = %q, want invalid_grant", retrieveErr.ErrorCode)
	}
	if store.AccessToken() != "old" {
		t.Error("store modified by rejected refresh")
	}
}
