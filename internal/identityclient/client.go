// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

// Package identityclient is the HTTP client for the playerid backend. It
// implements identity.Backend so the identity manager can drive it.
package identityclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/pickiss/playerid/internal/httpapi"
	"github.com/pickiss/playerid/internal/identity"
)

// DefaultVersion is reported when no client version is configured.
const DefaultVersion = "0.1.0"

const (
	userAgentPrefix = "playerid-client/"
	maxErrorBody    = 64 << 10
	defaultTimeout  = 15 * time.Second
)

// TokenStore caches the backend session token between runs.
type TokenStore interface {
	SessionToken() (string, error)
	SetSessionToken(token string) error
	ClearSessionToken() error
}

// Client talks to the /v1/players API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenStore
	version string
	logger  *slog.Logger

	mu          sync.Mutex
	accessToken string
	playerID    string
	subscribers []func(identity.Event)
}

var (
	_ identity.Backend     = (*Client)(nil)
	_ identity.EventSource = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenStore persists the session token. Defaults to an in-memory store.
func WithTokenStore(ts TokenStore) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithVersion sets the version sent in X-Client-Version and User-Agent.
func WithVersion(v string) Option {
	return func(c *Client) { c.version = v }
}

// WithLogger sets the client logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, oops.Code("IDENTITYCLIENT_CONFIG_INVALID").With("base_url", baseURL).Wrap(err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, oops.Code("IDENTITYCLIENT_CONFIG_INVALID").
			With("base_url", baseURL).
			Errorf("base url must be an absolute http(s) url")
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: defaultTimeout},
		tokens:  &memoryTokenStore{},
		version: DefaultVersion,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil || c.tokens == nil || c.logger == nil {
		return nil, oops.Code("IDENTITYCLIENT_INVALID_DEPENDENCY").Errorf("http client, token store and logger are required")
	}
	return c, nil
}

// Subscribe registers fn for session events.
func (c *Client) Subscribe(fn func(identity.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// PlayerID returns the signed-in player, or "" when signed out.
func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// SignedIn reports whether the client holds an access token.
func (c *Client) SignedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken != ""
}

// SessionTokenExists reports whether a session token is cached.
func (c *Client) SessionTokenExists() bool {
	token, err := c.tokens.SessionToken()
	return err == nil && token != ""
}

// SignInAnonymously resumes the cached session, or creates a new anonymous
// player when none is cached.
func (c *Client) SignInAnonymously(ctx context.Context) error {
	token, err := c.tokens.SessionToken()
	if err != nil {
		return &identity.RequestFailedError{Message: "read session token: " + err.Error(), Err: err}
	}
	return c.signIn(ctx, "/v1/players/anonymous", httpapi.SignInRequest{SessionToken: token})
}

// SignInWithProvider signs in as the player linked to credential.
func (c *Client) SignInWithProvider(ctx context.Context, p identity.Provider, credential string) error {
	return c.signIn(ctx, providerPath(p, "sign-in"), httpapi.CredentialRequest{Credential: credential})
}

// LinkWithProvider links credential to the signed-in player.
func (c *Client) LinkWithProvider(ctx context.Context, p identity.Provider, credential string) error {
	return c.authed(ctx, http.MethodPost, providerPath(p, "link"), httpapi.CredentialRequest{Credential: credential}, nil)
}

// GetPlayerInfo returns the signed-in player and its linked identities.
func (c *Client) GetPlayerInfo(ctx context.Context) (*identity.PlayerInfo, error) {
	var resp httpapi.PlayerInfoResponse
	if err := c.authed(ctx, http.MethodGet, "/v1/players/me", nil, &resp); err != nil {
		return nil, err
	}
	info := &identity.PlayerInfo{
		ID:         resp.ID,
		CreatedAt:  resp.CreatedAt,
		Identities: make([]identity.ExternalIdentity, 0, len(resp.Identities)),
	}
	for _, id := range resp.Identities {
		info.Identities = append(info.Identities, identity.ExternalIdentity{TypeID: id.TypeID, UserID: id.UserID})
	}
	return info, nil
}

// ClearSessionToken drops the cached session token.
func (c *Client) ClearSessionToken() error {
	if err := c.tokens.ClearSessionToken(); err != nil {
		return oops.Code("IDENTITYCLIENT_TOKEN_STORE_FAILED").Wrap(err)
	}
	return nil
}

// SignOut ends the backend session and forgets the in-memory credentials.
// An expired access token is refreshed once so the session row is deleted.
// The credentials are dropped even when the backend call fails.
func (c *Client) SignOut(ctx context.Context) error {
	var err error
	if c.SignedIn() {
		err = c.authed(ctx, http.MethodPost, "/v1/players/sign-out", nil, nil)
	}
	c.setCredentials("", "")
	c.emit(identity.Event{Kind: identity.EventSignedOut})
	return err
}

func (c *Client) signIn(ctx context.Context, path string, body any) error {
	var resp httpapi.SignInResponse
	if err := c.do(ctx, http.MethodPost, path, "", body, &resp); err != nil {
		c.emit(identity.Event{Kind: identity.EventSignInFailed, Err: err})
		return err
	}
	if err := c.tokens.SetSessionToken(resp.SessionToken); err != nil {
		c.logger.WarnContext(ctx, "cache session token failed", "error", err)
	}
	c.setCredentials(resp.AccessToken, resp.PlayerID)
	c.emit(identity.Event{Kind: identity.EventSignedIn, PlayerID: resp.PlayerID})
	return nil
}

// authed sends a bearer request. An expired access token is refreshed by
// resuming the cached session once; if that fails the session is expired.
func (c *Client) authed(ctx context.Context, method, path string, body, out any) error {
	token := c.currentAccessToken()
	if token == "" {
		return &identity.AuthenticationError{Code: httpapi.CodeUnauthenticated, Message: "not signed in"}
	}
	err := c.do(ctx, method, path, token, body, out)
	if !isCode(err, identity.CodeSessionExpired) {
		return err
	}

	if refreshErr := c.refresh(ctx); refreshErr != nil {
		c.logger.WarnContext(ctx, "session refresh failed", "error", refreshErr)
		c.setCredentials("", "")
		c.emit(identity.Event{Kind: identity.EventExpired, Err: err})
		return err
	}
	return c.do(ctx, method, path, c.currentAccessToken(), body, out)
}

func (c *Client) refresh(ctx context.Context) error {
	token, err := c.tokens.SessionToken()
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("no cached session token")
	}
	var resp httpapi.SignInResponse
	if err := c.do(ctx, http.MethodPost, "/v1/players/anonymous", "", httpapi.SignInRequest{SessionToken: token}, &resp); err != nil {
		return err
	}
	c.setCredentials(resp.AccessToken, resp.PlayerID)
	return nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &identity.RequestFailedError{Message: "encode request: " + err.Error(), Err: err}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return &identity.RequestFailedError{Message: "build request: " + err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgentPrefix+c.version)
	req.Header.Set(httpapi.HeaderClientVersion, c.version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &identity.RequestFailedError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // drain for reuse
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &identity.RequestFailedError{
			Status:  resp.StatusCode,
			Message: "decode response: " + err.Error(),
			Err:     err,
		}
	}
	return nil
}

// decodeError maps an error envelope to the identity error types: coded 4xx
// responses are provider errors, everything else is a request failure.
func decodeError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &identity.RequestFailedError{Status: resp.StatusCode, Message: resp.Status, Err: err}
	}
	var env httpapi.ErrorResponse
	if err := json.Unmarshal(raw, &env); err != nil || env.Code == "" {
		return &identity.RequestFailedError{Status: resp.StatusCode, Message: resp.Status}
	}
	message := env.Message
	if message == "" {
		message = resp.Status
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return &identity.RequestFailedError{Status: resp.StatusCode, Message: message}
	}
	return &identity.AuthenticationError{Code: env.Code, Message: message}
}

func (c *Client) emit(e identity.Event) {
	c.mu.Lock()
	subs := append(([]func(identity.Event))(nil), c.subscribers...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

func (c *Client) currentAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *Client) setCredentials(accessToken, playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
	c.playerID = playerID
}

func providerPath(p identity.Provider, action string) string {
	return "/v1/players/providers/" + url.PathEscape(string(p)) + "/" + action
}

func isCode(err error, code string) bool {
	var authErr *identity.AuthenticationError
	return errors.As(err, &authErr) && authErr.Code == code
}

type memoryTokenStore struct {
	mu    sync.Mutex
	token string
}

func (m *memoryTokenStore) SessionToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *memoryTokenStore) SetSessionToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *memoryTokenStore) ClearSessionToken() error {
	return m.SetSessionToken("")
}
