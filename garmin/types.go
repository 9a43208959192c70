// Package garmin implements the Garmin Connect authentication flow: SSO
// login (including MFA), the OAuth1-to-OAuth2 token bridge, persistent
// token storage, and an authenticated request helper with expiry-aware
// refresh. Data endpoint wrappers are thin; the session state machine is
// the substance.
package garmin

import "time"

// expiryMargin is the safety window applied when deciding whether a token
// needs refreshing. A token within this margin of its expiry is treated as
// already expired so in-flight requests do not race the deadline.
const expiryMargin = 60 * time.Second

// OAuth1Token is the intermediate credential pair minted from an SSO
// ticket. It has no client-side expiry: it is treated as valid until the
// exchange endpoint rejects it, at which point the whole session is dead
// and a fresh login is required.
type OAuth1Token struct {
	Token         string `json:"oauth_token"`
	Secret        string `json:"oauth_token_secret"`
	MFAToken      string `json:"mfa_token,omitempty"`
	MFAExpiration string `json:"mfa_expiration_timestamp,omitempty"`
	Domain        string `json:"domain"`
}

// OAuth2Token is the bearer credential presented on data API calls.
// ExpiresAt and RefreshTokenExpiresAt are absolute epoch seconds computed
// at exchange time; the relative *_in fields are kept as returned by the
// exchange endpoint. The token is always replaced wholesale on refresh,
// never patched.
type OAuth2Token struct {
	Scope                 string `json:"scope"`
	JTI                   string `json:"jti"`
	TokenType             string `json:"token_type"`
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token"`
	ExpiresIn             int64  `json:"expires_in"`
	ExpiresAt             int64  `json:"expires_at"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
	RefreshTokenExpiresAt int64  `json:"refresh_token_expires_at"`
}

// Expired reports whether the access token is expired or inside the safety
// margin of expiring.
func (t *OAuth2Token) Expired() bool {
	return t.expiredAt(time.Now())
}

func (t *OAuth2Token) expiredAt(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt-int64(expiryMargin.Seconds())
}

// RefreshExpired reports whether the refresh token is past its expiry,
// with the same safety margin.
func (t *OAuth2Token) RefreshExpired() bool {
	return time.Now().Unix() >= t.RefreshTokenExpiresAt-int64(expiryMargin.Seconds())
}

// SessionCookie is one serialized cookie from the SSO session jar. Only
// name and value survive serialization; cookies are restored against the
// SSO URL they were captured from, which re-scopes them correctly.
type SessionCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MFAState captures everything needed to resume a login that was suspended
// on a multi-factor challenge: the signin query parameters, the session
// cookies accumulated so far, and the CSRF token scraped from the
// challenge page. It is single-use and never persisted to disk.
type MFAState struct {
	SigninParams map[string]string `json:"signin_params"`
	Cookies      []SessionCookie   `json:"cookies"`
	CSRFToken    string            `json:"csrf_token"`
}

// Consumer is the application-level key pair used to sign OAuth1-style
// requests. It identifies the client application, not the user.
type Consumer struct {
	Key    string `json:"consumer_key"`
	Secret string `json:"consumer_secret"`
}
