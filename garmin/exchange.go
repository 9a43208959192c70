package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// connectUserAgent is the agent string the OAuth and data endpoints
// expect; they serve the mobile app's API surface.
const connectUserAgent = "com.garmin.android.apps.connectmobile"

// oauthExchanger performs the two one-way exchanges of the token bridge:
// SSO ticket to OAuth1, and OAuth1 to OAuth2. The second exchange doubles
// as the refresh path, re-run with the retained OAuth1 token.
type oauthExchanger struct {
	client  *http.Client
	base    string // https://connectapi.<domain>
	ssoBase string // https://sso.<domain>/sso, for the login-url parameter
	logger  *slog.Logger
}

func newOAuthExchanger(client *http.Client, base, ssoBase string, logger *slog.Logger) *oauthExchanger {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &oauthExchanger{client: client, base: base, ssoBase: ssoBase, logger: logger}
}

// fetchOAuth1Token exchanges an SSO ticket for an OAuth1 token pair via
// the preauthorization endpoint. Consumer-only signing; the response body
// is URL-encoded form data, not JSON.
func (e *oauthExchanger) fetchOAuth1Token(ctx context.Context, ticket string, consumer Consumer, domain string) (*OAuth1Token, error) {
	q := url.Values{}
	q.Set("ticket", ticket)
	q.Set("login-url", e.ssoBase+"/embed")
	q.Set("accepts-mfa-tokens", "true")

	fullURL := e.base + "/oauth-service/oauth/preauthorized?" + q.Encode()

	auth, err := oauth1Header(http.MethodGet, fullURL, nil, consumer, "", "")
	if err != nil {
		return nil, err
	}

	status, body, err := e.do(ctx, http.MethodGet, fullURL, auth, nil)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusTooManyRequests:
		return nil, &RateLimitError{Endpoint: "preauthorized"}
	case status == http.StatusUnauthorized:
		return nil, &AuthError{Reason: "preauthorization rejected"}
	case status < 200 || status >= 300:
		return nil, &AuthError{Reason: fmt.Sprintf("preauthorization failed: status %d: %s", status, body)}
	}

	vals, err := url.ParseQuery(body)
	if err != nil {
		return nil, &AuthError{Reason: "unparsable preauthorization response"}
	}

	token := vals.Get("oauth_token")
	secret := vals.Get("oauth_token_secret")
	if token == "" || secret == "" {
		return nil, &AuthError{Reason: "preauthorization response missing oauth_token"}
	}

	e.logger.Debug("OAuth1 token issued", slog.Bool("mfa_token", vals.Get("mfa_token") != ""))

	return &OAuth1Token{
		Token:         token,
		Secret:        secret,
		MFAToken:      vals.Get("mfa_token"),
		MFAExpiration: vals.Get("mfa_expiration_timestamp"),
		Domain:        domain,
	}, nil
}

// exchangeOAuth2 mints an OAuth2 bearer pair from an OAuth1 token. The
// request is signed with both the consumer and the OAuth1 token, and the
// body carries the MFA token when the login was MFA-gated. A 401 here
// means the OAuth1 token itself is no longer honored: the distinct
// TokenExpiredError tells callers that only a full re-login recovers.
func (e *oauthExchanger) exchangeOAuth2(ctx context.Context, o1 *OAuth1Token, consumer Consumer) (*OAuth2Token, error) {
	form := url.Values{}
	if o1.MFAToken != "" {
		form.Set("mfa_token", o1.MFAToken)
	}

	fullURL := e.base + "/oauth-service/oauth/exchange/user/2.0"

	auth, err := oauth1Header(http.MethodPost, fullURL, form, consumer, o1.Token, o1.Secret)
	if err != nil {
		return nil, err
	}

	status, body, err := e.do(ctx, http.MethodPost, fullURL, auth, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusTooManyRequests:
		return nil, &RateLimitError{Endpoint: "exchange"}
	case status == http.StatusUnauthorized:
		return nil, &TokenExpiredError{Reason: "OAuth1 token rejected during exchange, re-login required"}
	case status < 200 || status >= 300:
		return nil, &AuthError{Reason: fmt.Sprintf("token exchange failed: status %d: %s", status, body)}
	}

	var t OAuth2Token
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, &AuthError{Reason: "malformed token exchange response"}
	}

	// Relative durations become absolute deadlines at exchange time.
	now := time.Now().Unix()
	t.ExpiresAt = now + t.ExpiresIn
	t.RefreshTokenExpiresAt = now + t.RefreshTokenExpiresIn

	e.logger.Debug("OAuth2 token issued", slog.Int64("expires_in", t.ExpiresIn))

	return &t, nil
}

func (e *oauthExchanger) do(ctx context.Context, method, rawURL, auth string, body io.Reader) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", connectUserAgent)
	req.Header.Set("Authorization", auth)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", &NetworkError{Err: err}
	}

	return resp.StatusCode, string(data), nil
}
