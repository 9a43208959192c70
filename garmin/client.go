package garmin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Client orchestrates a Garmin Connect session: SSO login and MFA
// continuation, the OAuth1-to-OAuth2 bridge, token persistence, and
// expiry-aware refresh for API calls. A Client is safe for concurrent use;
// tokens are replaced wholesale behind a lock so readers never observe a
// torn pair. Concurrent refreshes are not coalesced -- two callers that
// both observe an expired token both exchange, both results are valid, and
// the last save wins.
type Client struct {
	domain   string
	store    TokenStore
	consumer *ConsumerSource
	logger   *slog.Logger

	httpClient *http.Client
	ssoBase    string // https://sso.<domain>/sso; overridden in tests
	apiBase    string // https://connectapi.<domain>; overridden in tests

	mu          sync.RWMutex
	oauth1      *OAuth1Token
	oauth2      *OAuth2Token
	pendingMFA  *MFAState
	displayName string
}

// Options configures a Client. Zero values get sensible defaults; only
// Store is commonly set.
type Options struct {
	// Domain is the Garmin top-level domain, garmin.com or garmin.cn.
	Domain string

	// Store persists the token pair. Defaults to a plaintext FileStore
	// under DefaultStoreDir.
	Store TokenStore

	// Consumer resolves the signing credentials. Defaults to a source
	// with no override.
	Consumer *ConsumerSource

	// HTTPClient is used for OAuth and data API calls. The SSO flow uses
	// its own redirect-suppressed, jar-backed client.
	HTTPClient *http.Client

	// SSOBase and APIBase override the URLs derived from Domain. Intended
	// for tests and local proxies; leave empty otherwise.
	SSOBase string
	APIBase string

	Logger *slog.Logger
}

// NewClient creates a session client. No network traffic happens until
// Login, Resume, or an API call.
func NewClient(opts Options) (*Client, error) {
	if opts.Domain == "" {
		opts.Domain = "garmin.com"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Consumer == nil {
		opts.Consumer = NewConsumerSource(opts.HTTPClient, nil, opts.Logger)
	}
	if opts.Store == nil {
		store, err := NewFileStore("", nil)
		if err != nil {
			return nil, fmt.Errorf("creating default token store: %w", err)
		}
		opts.Store = store
	}

	if opts.SSOBase == "" {
		opts.SSOBase = "https://sso." + opts.Domain + "/sso"
	}
	if opts.APIBase == "" {
		opts.APIBase = "https://connectapi." + opts.Domain
	}

	return &Client{
		domain:     opts.Domain,
		store:      opts.Store,
		consumer:   opts.Consumer,
		logger:     opts.Logger,
		httpClient: opts.HTTPClient,
		ssoBase:    opts.SSOBase,
		apiBase:    opts.APIBase,
	}, nil
}

// LoginResult reports the outcome of Login: either both tokens on
// immediate success, or NeedsMFA with the continuation state the caller
// passes back to SubmitMFA (or omits, since the client retains it).
type LoginResult struct {
	NeedsMFA bool
	MFA      *MFAState
	OAuth1   *OAuth1Token
	OAuth2   *OAuth2Token
}

// Login runs the SSO flow with the given credentials. When the account
// has MFA enabled, no tokens are written anywhere; the returned state
// suspends the login until SubmitMFA.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	sso, err := newSSOSession(c.ssoBase, c.logger)
	if err != nil {
		return nil, err
	}

	outcome, err := sso.login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if outcome.mfa != nil {
		c.mu.Lock()
		c.pendingMFA = outcome.mfa
		c.mu.Unlock()

		c.logger.Info("login suspended on MFA challenge")

		return &LoginResult{NeedsMFA: true, MFA: outcome.mfa}, nil
	}

	return c.completeLogin(ctx, outcome.ticket)
}

// SubmitMFA resumes a suspended login with the user's MFA code. A nil
// state falls back to the state retained by the last Login; either way
// the state is consumed.
func (c *Client) SubmitMFA(ctx context.Context, code string, state *MFAState) error {
	if state == nil {
		c.mu.RLock()
		state = c.pendingMFA
		c.mu.RUnlock()
	}
	if state == nil {
		return ErrNoPendingMFA
	}

	sso, err := newSSOSession(c.ssoBase, c.logger)
	if err != nil {
		return err
	}

	outcome, err := sso.resumeMFA(ctx, code, state)
	if err != nil {
		return err
	}

	_, err = c.completeLogin(ctx, outcome.ticket)

	return err
}

// completeLogin runs the full OAuth bridge for a fresh ticket and persists
// the resulting pair. Any retained MFA state is cleared: the login is done.
func (c *Client) completeLogin(ctx context.Context, ticket string) (*LoginResult, error) {
	consumer := c.consumer.Get(ctx)
	ex := c.exchanger()

	o1, err := ex.fetchOAuth1Token(ctx, ticket, consumer, c.domain)
	if err != nil {
		return nil, err
	}

	o2, err := ex.exchangeOAuth2(ctx, o1, consumer)
	if err != nil {
		return nil, err
	}

	c.setTokens(o1, o2)

	if err := c.store.Save(o1, o2); err != nil {
		return nil, fmt.Errorf("saving tokens: %w", err)
	}

	c.logger.Info("authenticated", slog.String("domain", c.domain))

	return &LoginResult{OAuth1: o1, OAuth2: o2}, nil
}

// Resume restores a session from the token store. When the stored OAuth2
// token is expired it is refreshed before returning, so a successful
// Resume always leaves a currently-valid token in memory.
func (c *Client) Resume(ctx context.Context) error {
	o1, o2, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("loading stored session: %w", err)
	}
	if o1 == nil || o2 == nil {
		return ErrNoStoredSession
	}

	c.setTokens(o1, o2)

	if o2.Expired() {
		c.logger.Debug("stored token expired, refreshing")
		return c.refresh(ctx)
	}

	c.logger.Info("session resumed from storage")

	return nil
}

// IsAuthenticated is a pure in-memory check: both tokens present. It
// consults neither storage nor expiry.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.oauth1 != nil && c.oauth2 != nil
}

// GetAccessToken returns the bearer string, refreshing first when the
// token is expired or inside the safety margin. This is the only
// sanctioned way to obtain the bearer value; the dispatcher never reads
// the token struct directly, keeping refresh logic in one place.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	o1, o2 := c.oauth1, c.oauth2
	c.mu.RUnlock()

	if o1 == nil || o2 == nil {
		return "", ErrNotAuthenticated
	}

	if o2.Expired() {
		if err := c.refresh(ctx); err != nil {
			return "", err
		}

		c.mu.RLock()
		o2 = c.oauth2
		c.mu.RUnlock()
	}

	return o2.AccessToken, nil
}

// Logout clears the in-memory tokens and the persisted pair. Idempotent.
func (c *Client) Logout(_ context.Context) error {
	c.mu.Lock()
	c.oauth1 = nil
	c.oauth2 = nil
	c.pendingMFA = nil
	c.displayName = ""
	c.mu.Unlock()

	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("clearing token store: %w", err)
	}

	c.logger.Info("logged out")

	return nil
}

// refresh re-runs the OAuth2 exchange with the retained OAuth1 token and
// persists the new pair. A persistence failure is logged rather than
// surfaced: the in-memory token is valid and the request that triggered
// the refresh should proceed.
func (c *Client) refresh(ctx context.Context) error {
	c.mu.RLock()
	o1 := c.oauth1
	c.mu.RUnlock()

	if o1 == nil {
		return ErrNotAuthenticated
	}

	o2, err := c.exchanger().exchangeOAuth2(ctx, o1, c.consumer.Get(ctx))
	if err != nil {
		return err
	}

	c.setTokens(o1, o2)

	if err := c.store.Save(o1, o2); err != nil {
		c.logger.Warn("failed to persist refreshed tokens", slog.String("error", err.Error()))
	}

	c.logger.Debug("token refreshed", slog.Int64("expires_at", o2.ExpiresAt))

	return nil
}

// ConnectAPI issues an authenticated request against the data API. On a
// 401 it refreshes and retries exactly once; a second 401 means the
// session is dead, not merely stale. Empty bodies (204 or zero length)
// return nil rather than attempting a JSON parse.
func (c *Client) ConnectAPI(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	status, data, err := c.doAPI(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		c.logger.Debug("401 from data endpoint, refreshing once", slog.String("path", path))

		if err := c.refresh(ctx); err != nil {
			return nil, err
		}

		token, err = c.GetAccessToken(ctx)
		if err != nil {
			return nil, err
		}

		status, data, err = c.doAPI(ctx, method, path, body, token)
		if err != nil {
			return nil, err
		}

		if status == http.StatusUnauthorized {
			return nil, &TokenExpiredError{Reason: "token rejected after refresh"}
		}
	}

	if status < 200 || status >= 300 {
		return nil, &APIError{Status: status, Body: string(data)}
	}

	if status == http.StatusNoContent || len(data) == 0 {
		return nil, nil
	}

	return json.RawMessage(data), nil
}

func (c *Client) doAPI(ctx context.Context, method, path string, body any, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshalling request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", connectUserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &NetworkError{Err: err}
	}

	return resp.StatusCode, data, nil
}

func (c *Client) exchanger() *oauthExchanger {
	return newOAuthExchanger(c.httpClient, c.apiBase, c.ssoBase, c.logger)
}

// setTokens replaces both tokens atomically and drops any pending MFA
// state: reaching a token pair means no login is suspended.
func (c *Client) setTokens(o1 *OAuth1Token, o2 *OAuth2Token) {
	c.mu.Lock()
	c.oauth1 = o1
	c.oauth2 = o2
	c.pendingMFA = nil
	c.mu.Unlock()
}

// Tokens returns the current in-memory pair, or nils when not
// authenticated. Exposed for the daemon's status surface; API callers go
// through GetAccessToken.
func (c *Client) Tokens() (*OAuth1Token, *OAuth2Token) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.oauth1, c.oauth2
}
