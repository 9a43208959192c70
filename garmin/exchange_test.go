package garmin

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConsumer = Consumer{Key: "consumer-key", Secret: "consumer-secret"}

func newTestExchanger(srv *httptest.Server) *oauthExchanger {
	return newOAuthExchanger(srv.Client(), srv.URL, "https://sso.garmin.com/sso",
		slog.New(slog.DiscardHandler))
}

func TestFetchOAuth1Token_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth-service/oauth/preauthorized", r.URL.Path)
		assert.Equal(t, "ST-ticket-1", r.URL.Query().Get("ticket"))
		assert.Equal(t, "https://sso.garmin.com/sso/embed", r.URL.Query().Get("login-url"))
		assert.Equal(t, "true", r.URL.Query().Get("accepts-mfa-tokens"))
		assert.Equal(t, connectUserAgent, r.Header.Get("User-Agent"))

		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "OAuth "))
		assert.Contains(t, auth, `oauth_consumer_key="consumer-key"`)
		assert.NotContains(t, auth, "oauth_token", "preauthorization is consumer-only signed")

		w.Write([]byte("oauth_token=o1-token&oauth_token_secret=o1-secret"))
	}))
	defer srv.Close()

	e := newTestExchanger(srv)

	o1, err := e.fetchOAuth1Token(context.Background(), "ST-ticket-1", testConsumer, "garmin.com")
	require.NoError(t, err)
	assert.Equal(t, "o1-token", o1.Token)
	assert.Equal(t, "o1-secret", o1.Secret)
	assert.Equal(t, "garmin.com", o1.Domain)
	assert.Empty(t, o1.MFAToken)
}

func TestFetchOAuth1Token_CarriesMFAToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("oauth_token=tk&oauth_token_secret=ts&mfa_token=mfa-1&mfa_expiration_timestamp=2026-09-01T00%3A00%3A00"))
	}))
	defer srv.Close()

	e := newTestExchanger(srv)

	o1, err := e.fetchOAuth1Token(context.Background(), "ST-1", testConsumer, "garmin.com")
	require.NoError(t, err)
	assert.Equal(t, "mfa-1", o1.MFAToken)
	assert.Equal(t, "2026-09-01T00:00:00", o1.MFAExpiration)
}

func TestFetchOAuth1Token_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	e := newTestExchanger(srv)

	_, err := e.fetchOAuth1Token(context.Background(), "stale-ticket", testConsumer, "garmin.com")

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestFetchOAuth1Token_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := newTestExchanger(srv)

	_, err := e.fetchOAuth1Token(context.Background(), "ST-1", testConsumer, "garmin.com")

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "preauthorized", rateErr.Endpoint)
}

func TestFetchOAuth1Token_MissingTokenInResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("oauth_token=only-half"))
	}))
	defer srv.Close()

	e := newTestExchanger(srv)

	_, err := e.fetchOAuth1Token(context.Background(), "ST-1", testConsumer, "garmin.com")

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "missing oauth_token")
}

func TestExchangeOAuth2_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth-service/oauth/exchange/user/2.0", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		auth := r.Header.Get("Authorization")
		assert.Contains(t, auth, `oauth_token="o1-token"`, "exchange signs with the OAuth1 token")

		require.NoError(t, r.ParseForm())
		assert.Empty(t, r.PostForm.Get("mfa_token"))

		w.Write([]byte(`{
			"scope": "CONNECT_READ",
			"jti": "jti-1",
			"token_type": "Bearer",
			"access_token": "at-1",
			"refresh_token": "rt-1",
			"expires_in": 3600,
			"refresh_token_expires_in": 7200
		}`))
	}))
	defer srv.Close()

	e := newTestExchanger(srv)

	o1 := &OAuth1Token{Token: "o1-token", Secret: "o1-secret"}

	before := time.Now().Unix()
	o2, err := e.exchangeOAuth2(context.Background(), o1, testConsumer)
	require.NoError(t, err)

	assert.Equal(t, "at-1", o2.AccessToken)
	assert.Equal(t, "rt-1", o2.RefreshToken)
	assert.Equal(t, "Bearer", o2.TokenType)

	// Absolute deadlines computed from the relative durations.
	assert.GreaterOrEqual(t, o2.ExpiresAt, before+3600)
	assert.GreaterOrEqual(t, o2.RefreshTokenExpiresAt, before+7200)
}

func TestExchangeOAuth2_ForwardsMFAToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "mfa-1", r.PostForm.Get("mfa_token"))

		w.Write([]byte(`{"access_token":"at-1","expires_in":3600}`))
	}))
	defer srv.Close()

	e := newTestExchanger(srv)

	o1 := &OAuth1Token{Token: "tk", Secret: "ts", MFAToken: "mfa-1"}

	_, err := e.exchangeOAuth2(context.Background(), o1, testConsumer)
	require.NoError(t, err)
}

func TestExchangeOAuth2_UnauthorizedMeansExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	e := newTestExchanger(srv)

	o1 := &OAuth1Token{Token: "tk", Secret: "ts"}

	_, err := e.exchangeOAuth2(context.Background(), o1, testConsumer)

	var expErr *TokenExpiredError
	require.ErrorAs(t, err, &expErr)
}

func TestExchangeOAuth2_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := newTestExchanger(srv)

	_, err := e.exchangeOAuth2(context.Background(), &OAuth1Token{Token: "tk", Secret: "ts"}, testConsumer)

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "exchange", rateErr.Endpoint)
}

func TestExchangeOAuth2_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	e := newTestExchanger(srv)

	_, err := e.exchangeOAuth2(context.Background(), &OAuth1Token{Token: "tk", Secret: "ts"}, testConsumer)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "malformed")
}

func TestExchangerDo_NetworkError(t *testing.T) {
	e := newOAuthExchanger(&http.Client{Timeout: 200 * time.Millisecond},
		"http://127.0.0.1:1", "https://sso.garmin.com/sso", slog.New(slog.DiscardHandler))

	_, err := e.fetchOAuth1Token(context.Background(), "ST-1", testConsumer, "garmin.com")

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.NotNil(t, netErr.Unwrap())
}

func TestFetchOAuth1Token_ResponseIsFormEncoded(t *testing.T) {
	// The preauthorization endpoint answers with URL-encoded form data.
	// Values containing encoded characters must come back decoded.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := url.Values{}
		v.Set("oauth_token", "tok+with spaces")
		v.Set("oauth_token_secret", "sec/ret=")
		w.Write([]byte(v.Encode()))
	}))
	defer srv.Close()

	e := newTestExchanger(srv)

	o1, err := e.fetchOAuth1Token(context.Background(), "ST-1", testConsumer, "garmin.com")
	require.NoError(t, err)
	assert.Equal(t, "tok+with spaces", o1.Token)
	assert.Equal(t, "sec/ret=", o1.Secret)
}
