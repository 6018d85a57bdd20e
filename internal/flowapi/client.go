// Package flowapi is the authenticated client for the eBike Flow rider
// profile API.
package flowapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flowbike/ebike-monitor/internal/log"
	"github.com/flowbike/ebike-monitor/internal/oauth"
)

const (
	DefaultBaseURL = "https://obc-rider-profile.prod.connected-biking.cloud"

	bikeProfilePath   = "/v1/bike-profile"
	stateOfChargePath = "/v1/state-of-charge"
)

const (
	// RequestTimeout bounds every API call, including each 401 retry.
	RequestTimeout = 10 * time.Second

	// RefreshMargin is how close to expiry a token may get before it is
	// refreshed ahead of a request.
	RefreshMargin = 10 * time.Minute
)

// Client issues Bearer-authenticated requests for one set of credentials.
// A Client is meant to be driven by a single sequential refresh path.
type Client struct {
	doer    oauth.Doer
	flow    *oauth.Flow
	store   *oauth.Store
	baseURL string
	log     log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(c *Client) { c.log = log.OrNop(l) }
}

// NewClient creates a client that authenticates with the credentials held by
// flow's store and refreshes them through flow.
func NewClient(doer oauth.Doer, flow *oauth.Flow, opts ...Option) *Client {
	c := &Client{
		doer:    doer,
		flow:    flow,
		store:   flow.Store(),
		baseURL: DefaultBaseURL,
		log:     log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.doer == nil {
		c.doer = oauth.NewDoer(nil)
	}
	return c
}

// EnsureValidToken refreshes the access token when it expires within
// RefreshMargin, or when the expiry is unknown but a refresh token is held.
func (c *Client) EnsureValidToken(ctx context.Context) error {
	remaining, known := c.store.ExpiresIn()
	switch {
	case known && remaining < RefreshMargin:
		c.log.Debug("access token expiring soon, refreshing", "remaining", remaining)
	case !known && c.store.RefreshToken() != "":
		c.log.Debug("access token expiry unknown, refreshing")
	default:
		return nil
	}

	_, err := c.flow.Refresh(ctx)
	return err
}

// Request performs an authenticated call and returns the raw JSON body.
// A nil result with a nil error means the resource is absent (HTTP 404 or an
// empty body). A 401 triggers exactly one refresh and retry.
func (c *Client) Request(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	if err := c.EnsureValidToken(ctx); err != nil {
		return nil, err
	}

	if c.store.AccessToken() == "" {
		return nil, &oauth.AuthError{Op: "api request", Err: oauth.ErrNoAccessToken}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	status, respBody, err := c.do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		c.log.Debug("got 401, refreshing token and retrying", "path", path)
		if _, err := c.flow.Refresh(ctx); err != nil {
			return nil, err
		}
		status, respBody, err = c.do(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case status == http.StatusNotFound:
		c.log.Debug("resource not found", "path", path)
		return nil, nil
	case status >= 200 && status <= 299:
		if len(bytes.TrimSpace(respBody)) == 0 {
			return nil, nil
		}
		return json.RawMessage(respBody), nil
	default:
		c.log.Warn("api request failed", "method", method, "path", path, "status", status)
		return nil, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: status,
			Body:       string(respBody),
		}
	}
}

// do sends one request with the current access token.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, &APIError{Method: method, Path: path, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.store.AccessToken())
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.DoWithContext(reqCtx, req)
	if err != nil {
		return 0, nil, &APIError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &APIError{Method: method, Path: path, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	return resp.StatusCode, respBody, nil
}

// GetBikeProfile returns the profile payload of bikeID, or nil when the API
// has no profile for it.
func (c *Client) GetBikeProfile(ctx context.Context, bikeID string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, bikeProfilePath+"/"+url.PathEscape(bikeID), nil)
}

// GetStateOfCharge returns the live state-of-charge payload of bikeID. A nil
// result is the normal outcome while the bike is offline.
func (c *Client) GetStateOfCharge(ctx context.Context, bikeID string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, stateOfChargePath+"/"+url.PathEscape(bikeID), nil)
}

// Bike is one entry of the account's bike list.
type Bike struct {
	ID         string          `json:"id"`
	Attributes json.RawMessage `json:"attributes"`
}

// ListBikes returns every bike registered to the account. An absent list is
// returned as empty.
func (c *Client) ListBikes(ctx context.Context) ([]Bike, error) {
	raw, err := c.Request(ctx, http.MethodGet, bikeProfilePath, nil)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return []Bike{}, nil
	}

	var resp struct {
		Data []Bike `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode bike list: %w", err)
	}
	if resp.Data == nil {
		resp.Data = []Bike{}
	}

	c.log.Debug("listed bikes", "count", len(resp.Data))
	return resp.Data, nil
}
