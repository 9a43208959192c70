package garmin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// browserUserAgent is sent on SSO page requests; the signin service
// serves the embedded-widget pages to browser agents.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// loginOutcome is what the SSO flow hands back to the session client:
// either a ticket ready for the OAuth bridge, or a suspended MFA state.
type loginOutcome struct {
	ticket string
	mfa    *MFAState
}

// ssoSession drives the cookie-bound login state machine against the SSO
// service. Every request routes through one jar: the CSRF token and the
// session identity are bound to cookies set from the first embed request
// onward. Redirects are suppressed so response bodies can be classified
// regardless of 3xx status.
type ssoSession struct {
	client *http.Client
	base   string // https://sso.<domain>/sso
	logger *slog.Logger
}

func newSSOSession(base string, logger *slog.Logger) (*ssoSession, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	return &ssoSession{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		base:   base,
		logger: logger,
	}, nil
}

// signinParams builds the fixed query parameter set shared by the signin
// and MFA endpoints. Parameter names are the remote service's contract.
func (s *ssoSession) signinParams() url.Values {
	embed := s.base + "/embed"

	v := url.Values{}
	v.Set("id", "gauth-widget")
	v.Set("embedWidget", "true")
	v.Set("gauthHost", embed)
	v.Set("service", embed)
	v.Set("source", embed)
	v.Set("redirectAfterAccountLoginUrl", embed)
	v.Set("redirectAfterAccountCreationUrl", embed)

	return v
}

// login runs establish -> prepare -> submit -> classify.
func (s *ssoSession) login(ctx context.Context, email, password string) (*loginOutcome, error) {
	// Establish: seed session cookies from the embed widget. The response
	// body is irrelevant; only the Set-Cookie headers matter.
	embedParams := url.Values{}
	embedParams.Set("id", "gauth-widget")
	embedParams.Set("embedWidget", "true")
	embedParams.Set("gauthHost", s.base)

	if _, _, err := s.get(ctx, s.base+"/embed?"+embedParams.Encode(), ""); err != nil {
		return nil, err
	}

	// Prepare: load the signin page and scrape its CSRF token.
	params := s.signinParams()
	signinURL := s.base + "/signin?" + params.Encode()

	_, page, err := s.get(ctx, signinURL, s.base+"/embed")
	if err != nil {
		return nil, err
	}

	csrf, ok := extractCSRF(page)
	if !ok {
		return nil, &AuthError{Reason: "could not locate CSRF token on signin page"}
	}

	s.logger.Debug("signin page prepared")

	// Submit credentials.
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)
	form.Set("embed", "true")
	form.Set("_csrf", csrf)

	resp, body, err := s.postForm(ctx, signinURL, form, signinURL)
	if err != nil {
		return nil, err
	}

	return s.classify(resp, body, params, "signin")
}

// resumeMFA completes a login suspended on a multi-factor challenge. The
// state is single-use; the session cookies it carries are replayed into a
// fresh jar.
func (s *ssoSession) resumeMFA(ctx context.Context, code string, state *MFAState) (*loginOutcome, error) {
	s.restoreCookies(state.Cookies)

	params := url.Values{}
	for k, v := range state.SigninParams {
		params.Set(k, v)
	}

	form := url.Values{}
	form.Set("mfa-code", code)
	form.Set("embed", "true")
	form.Set("_csrf", state.CSRFToken)
	form.Set("fromPage", "setupEnterMfaCode")

	verifyURL := s.base + "/verifyMFA/loginEnterMfaCode?" + params.Encode()

	resp, body, err := s.postForm(ctx, verifyURL, form, s.base+"/signin?"+params.Encode())
	if err != nil {
		return nil, err
	}

	outcome, err := s.classify(resp, body, params, "verifyMFA")
	if err != nil {
		return nil, err
	}
	if outcome.mfa != nil {
		// The verify endpoint re-challenged; the code was not accepted.
		return nil, &AuthError{Reason: "MFA code rejected"}
	}

	return outcome, nil
}

// classify inspects a signin or MFA response. 429 is a rate limit, an
// MFA/Challenge title suspends the flow, "Success" yields a ticket, and
// any other title is a hard failure carrying the title text -- the title
// is the service's human-readable error channel.
func (s *ssoSession) classify(resp *http.Response, body string, params url.Values, endpoint string) (*loginOutcome, error) {
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Endpoint: endpoint}
	}

	title, ok := extractTitle(body)
	if !ok {
		return nil, &AuthError{Reason: fmt.Sprintf("%s response had no title (status %d)", endpoint, resp.StatusCode)}
	}

	switch {
	case titleNeedsMFA(title):
		csrf, ok := extractCSRF(body)
		if !ok {
			return nil, &AuthError{Reason: "could not locate CSRF token on MFA page"}
		}

		s.logger.Debug("MFA challenge issued")

		flat := make(map[string]string, len(params))
		for k := range params {
			flat[k] = params.Get(k)
		}

		return &loginOutcome{mfa: &MFAState{
			SigninParams: flat,
			Cookies:      s.sessionCookies(),
			CSRFToken:    csrf,
		}}, nil

	case title == "Success":
		ticket, ok := extractTicket(body)
		if !ok {
			return nil, &AuthError{Reason: "login succeeded but no ticket found in response"}
		}

		s.logger.Debug("SSO ticket issued")

		return &loginOutcome{ticket: ticket}, nil

	default:
		return nil, &AuthError{Reason: "login failed: " + title}
	}
}

func (s *ssoSession) get(ctx context.Context, rawURL, referer string) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}

	return s.do(req, referer)
}

func (s *ssoSession) postForm(ctx context.Context, rawURL string, form url.Values, referer string) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return s.do(req, referer)
}

func (s *ssoSession) do(req *http.Request, referer string) (*http.Response, string, error) {
	req.Header.Set("User-Agent", browserUserAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &NetworkError{Err: err}
	}

	return resp, string(body), nil
}

// sessionCookies serializes the jar's cookies for the SSO base URL so an
// MFA continuation can replay them later, possibly in another process.
func (s *ssoSession) sessionCookies() []SessionCookie {
	u, err := url.Parse(s.base)
	if err != nil {
		return nil
	}

	cookies := s.client.Jar.Cookies(u)

	out := make([]SessionCookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, SessionCookie{Name: c.Name, Value: c.Value})
	}

	return out
}

func (s *ssoSession) restoreCookies(cookies []SessionCookie) {
	u, err := url.Parse(s.base)
	if err != nil {
		return
	}

	restored := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		restored = append(restored, &http.Cookie{Name: c.Name, Value: c.Value})
	}

	s.client.Jar.SetCookies(u, restored)
}
