// Package oauth implements the PKCE authorization-code flow and token
// lifecycle for the eBike Flow cloud.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/flowbike/ebike-monitor/internal/log"
)

// Fixed client registration of the vendor's mobile app.
const (
	DefaultAuthBaseURL = "https://p9.authz.bosch.com/auth/realms/obc"
	ClientID           = "one-bike-app"
	RedirectURL        = "onebikeapp-ios://com.bosch.ebike.onebikeapp/oauth2redirect"

	authPath  = "/protocol/openid-connect/auth"
	tokenPath = "/protocol/openid-connect/token"
)

// Scopes requested at login. offline_access yields a long-lived refresh token.
var Scopes = []string{"openid", "offline_access"}

const (
	// RequestTimeout bounds every call to the token endpoint.
	RequestTimeout = 10 * time.Second

	// DefaultExpiresIn is assumed when the token response carries no expires_in.
	DefaultExpiresIn = 7200 * time.Second
)

// Doer sends HTTP requests. *retry.Client from go-httpretry satisfies it;
// NewDoer adapts a plain *http.Client.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

type stdDoer struct {
	c *http.Client
}

// NewDoer wraps c so it can be used where a Doer is expected. A nil c uses
// http.DefaultClient.
func NewDoer(c *http.Client) Doer {
	if c == nil {
		c = http.DefaultClient
	}
	return stdDoer{c: c}
}

func (d stdDoer) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return d.c.Do(req.WithContext(ctx))
}

// Flow performs code exchange and refresh against the authorization server and
// writes the resulting credentials into its Store.
type Flow struct {
	doer    Doer
	store   *Store
	baseURL string
	log     log.Logger
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithAuthBaseURL overrides the realm base URL (tests, staging realms).
func WithAuthBaseURL(u string) FlowOption {
	return func(f *Flow) { f.baseURL = strings.TrimSuffix(u, "/") }
}

// WithFlowLogger sets the logger.
func WithFlowLogger(l log.Logger) FlowOption {
	return func(f *Flow) { f.log = log.OrNop(l) }
}

// NewFlow creates a Flow that stores tokens in store.
func NewFlow(doer Doer, store *Store, opts ...FlowOption) *Flow {
	f := &Flow{
		doer:    doer,
		store:   store,
		baseURL: DefaultAuthBaseURL,
		log:     log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.doer == nil {
		f.doer = NewDoer(nil)
	}
	return f
}

// Store returns the credential store the flow writes to.
func (f *Flow) Store() *Store {
	return f.store
}

func (f *Flow) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    ClientID,
		RedirectURL: RedirectURL,
		Scopes:      Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   f.baseURL + authPath,
			TokenURL:  f.baseURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// GeneratePKCEPair returns a fresh code verifier (base64url of 32 random
// bytes, 43 characters) and its S256 challenge.
func GeneratePKCEPair() (verifier, challenge string) {
	verifier = oauth2.GenerateVerifier()
	return verifier, oauth2.S256ChallengeFromVerifier(verifier)
}

// AuthorizationURL builds the login URL for challenge. Each call embeds a new
// random state and nonce, so a URL serves a single login attempt.
func (f *Flow) AuthorizationURL(challenge string) string {
	state := oauth2.GenerateVerifier()
	nonce := oauth2.GenerateVerifier()

	return f.config().AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("kc_idp_hint", "skid"),
		oauth2.SetAuthURLParam("prompt", "login"),
	)
}

// ExchangeCode trades an authorization code for tokens and stores them.
func (f *Flow) ExchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("client_id", ClientID)
	data.Set("code", code)
	data.Set("code_verifier", verifier)
	data.Set("redirect_uri", RedirectURL)

	tok, err := f.postToken(ctx, "token exchange", data)
	if err != nil {
		return nil, err
	}

	f.store.Set(tok)
	f.log.Debug("exchanged authorization code for tokens", "expiry", tok.Expiry)
	return tok, nil
}

// Refresh obtains a new access token with the stored refresh token. When the
// server does not rotate the refresh token the previous one is kept.
func (f *Flow) Refresh(ctx context.Context) (*oauth2.Token, error) {
	refreshToken := f.store.RefreshToken()
	if refreshToken == "" {
		return nil, &AuthError{Op: "token refresh", Err: ErrNoRefreshToken}
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("client_id", ClientID)
	data.Set("refresh_token", refreshToken)

	tok, err := f.postToken(ctx, "token refresh", data)
	if err != nil {
		return nil, err
	}

	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	f.store.Set(tok)
	f.log.Debug("refreshed access token", "expiry", tok.Expiry)
	return tok, nil
}

func (f *Flow) postToken(ctx context.Context, op string, data url.Values) (*oauth2.Token, error) {
	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		f.config().Endpoint.TokenURL,
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return nil, &AuthError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	resp, err := f.doer.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, &AuthError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.log.Warn("token endpoint rejected request", "op", op, "status", resp.StatusCode)
		return nil, &AuthError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        retrieveError(resp, body),
		}
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, &AuthError{Op: op, Err: fmt.Errorf("failed to parse token response: %w", err)}
	}

	if tokenResp.AccessToken == "" {
		return nil, &AuthError{Op: op, Err: fmt.Errorf("access_token is empty")}
	}

	expiresIn := DefaultExpiresIn
	if tokenResp.ExpiresIn > 0 {
		expiresIn = time.Duration(tokenResp.ExpiresIn) * time.Second
	}

	return &oauth2.Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
		Expiry:       f.store.clock.Now().Add(expiresIn),
	}, nil
}

// retrieveError mirrors what oauth2 reports for a failed token request,
// including the RFC 6749 error fields when the body carries them.
func retrieveError(resp *http.Response, body []byte) *oauth2.RetrieveError {
	rErr := &oauth2.RetrieveError{Response: resp, Body: body}

	var errResp struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorURI         string `json:"error_uri"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		rErr.ErrorCode = errResp.Error
		rErr.ErrorDescription = errResp.ErrorDescription
		rErr.ErrorURI = errResp.ErrorURI
	}
	return rErr
}
