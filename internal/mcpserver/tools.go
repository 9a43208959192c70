// Package mcpserver registers MCP tools that expose the Garmin session and
// data endpoints. It adapts the garmin package to the MCP SDK's tool
// handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/alexjbarnes/garmin-sync/garmin"
)

const dateLayout = "2006-01-02"

// Service bundles what the tool handlers need: the session client, the
// gate that data tools wait on while a login is in flight, and the
// configured credentials for scripted logins.
type Service struct {
	Client      *garmin.Client
	Gate        *garmin.Gate
	Email       string
	Password    string
	WaitTimeout time.Duration
	Logger      *slog.Logger
}

// RegisterTools adds all session and data tools to the given MCP server.
func RegisterTools(server *mcp.Server, s *Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "garmin_login",
		Description: "Sign in to Garmin Connect with the configured credentials. Returns either authenticated or mfa_required; in the latter case call garmin_submit_mfa with the code from the user's authenticator.",
	}, loginHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "garmin_submit_mfa",
		Description: "Complete a login that is waiting on a multi-factor code. Only valid after garmin_login returned mfa_required.",
	}, submitMFAHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "garmin_status",
		Description: "Report the current session state: whether a session is active, the Garmin domain, and the access token expiry.",
	}, statusHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "garmin_logout",
		Description: "End the session and delete the stored tokens.",
	}, logoutHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "garmin_profile",
		Description: "Fetch the signed-in user's social profile (display name, full name, user name).",
	}, profileHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "garmin_daily_summary",
		Description: "Fetch the daily summary (steps, distance, resting heart rate, calories, sleep and stress seconds) for a calendar date. Date defaults to today.",
	}, dailySummaryHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "garmin_steps",
		Description: "Fetch the per-interval step series for a calendar date. Date defaults to today.",
	}, stepsHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "garmin_sleep",
		Description: "Fetch sleep data for a night, keyed by the wake date. Date defaults to today.",
	}, sleepHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "garmin_stress",
		Description: "Fetch the stress timeline for a calendar date. Date defaults to today.",
	}, stressHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "garmin_heart_rate_zones",
		Description: "Fetch the configured heart rate zones.",
	}, heartRateZonesHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "garmin_workouts",
		Description: "List saved workouts, newest first. Limit defaults to 20.",
	}, workoutsHandler(s))
}

// ensureAuth lets a data tool proceed. When no session is active it parks
// on the gate until an interactive login completes or the wait times out.
func (s *Service) ensureAuth(ctx context.Context) error {
	if s.Client.IsAuthenticated() {
		return nil
	}

	s.Logger.Info("data request waiting for login")

	if err := s.Gate.Wait(ctx, s.WaitTimeout); err != nil {
		return err
	}

	if !s.Client.IsAuthenticated() {
		return garmin.ErrNotAuthenticated
	}

	return nil
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// LoginInput optionally overrides the configured credentials.
type LoginInput struct {
	Email    string `json:"email,omitempty" jsonschema:"account email, defaults to the configured GARMIN_EMAIL"`
	Password string `json:"password,omitempty" jsonschema:"account password, defaults to the configured GARMIN_PASSWORD"`
}

// SubmitMFAInput holds parameters for garmin_submit_mfa.
type SubmitMFAInput struct {
	Code string `json:"code" jsonschema:"required,the multi-factor code from the user's authenticator"`
}

// StatusInput has no parameters.
type StatusInput struct{}

// LogoutInput has no parameters.
type LogoutInput struct{}

// ProfileInput has no parameters.
type ProfileInput struct{}

// DateInput selects a calendar date for the daily data tools.
type DateInput struct {
	Date string `json:"date,omitempty" jsonschema:"calendar date as YYYY-MM-DD, defaults to today"`
}

// ZonesInput has no parameters.
type ZonesInput struct{}

// WorkoutsInput holds parameters for garmin_workouts.
type WorkoutsInput struct {
	Start int `json:"start,omitempty" jsonschema:"pagination offset, defaults to 0"`
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of workouts, defaults to 20"`
}

// --- Output types ---

// LoginResult reports the outcome of garmin_login.
type LoginResult struct {
	Status string `json:"status"`
}

// StatusResult reports the current session state.
type StatusResult struct {
	Authenticated bool   `json:"authenticated"`
	Domain        string `json:"domain,omitempty"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
	Expired       bool   `json:"expired,omitempty"`
}

// LogoutResult reports the outcome of garmin_logout.
type LogoutResult struct {
	Status string `json:"status"`
}

// --- Handlers ---

func loginHandler(s *Service) mcp.ToolHandlerFor[LoginInput, *LoginResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input LoginInput) (*mcp.CallToolResult, *LoginResult, error) {
		email, password := s.Email, s.Password
		if input.Email != "" {
			email = input.Email
		}
		if input.Password != "" {
			password = input.Password
		}
		if email == "" || password == "" {
			return nil, nil, fmt.Errorf("no credentials: set GARMIN_EMAIL and GARMIN_PASSWORD or pass email and password")
		}

		res, err := s.Client.Login(ctx, email, password)
		if err != nil {
			return nil, nil, err
		}

		if res.NeedsMFA {
			result := &LoginResult{Status: "mfa_required"}
			return textResult(result), result, nil
		}

		s.Gate.Notify()

		result := &LoginResult{Status: "authenticated"}
		return textResult(result), result, nil
	}
}

func submitMFAHandler(s *Service) mcp.ToolHandlerFor[SubmitMFAInput, *LoginResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SubmitMFAInput) (*mcp.CallToolResult, *LoginResult, error) {
		if input.Code == "" {
			return nil, nil, fmt.Errorf("code is required")
		}

		if err := s.Client.SubmitMFA(ctx, input.Code, nil); err != nil {
			return nil, nil, err
		}

		s.Gate.Notify()

		result := &LoginResult{Status: "authenticated"}
		return textResult(result), result, nil
	}
}

func statusHandler(s *Service) mcp.ToolHandlerFor[StatusInput, *StatusResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusResult, error) {
		o1, o2 := s.Client.Tokens()

		result := &StatusResult{Authenticated: o1 != nil && o2 != nil}
		if result.Authenticated {
			result.Domain = o1.Domain
			result.ExpiresAt = o2.ExpiresAt
			result.Expired = o2.Expired()
		}

		return textResult(result), result, nil
	}
}

func logoutHandler(s *Service) mcp.ToolHandlerFor[LogoutInput, *LogoutResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ LogoutInput) (*mcp.CallToolResult, *LogoutResult, error) {
		if err := s.Client.Logout(ctx); err != nil {
			return nil, nil, err
		}

		result := &LogoutResult{Status: "logged_out"}
		return textResult(result), result, nil
	}
}

func profileHandler(s *Service) mcp.ToolHandlerFor[ProfileInput, *garmin.Profile] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ ProfileInput) (*mcp.CallToolResult, *garmin.Profile, error) {
		if err := s.ensureAuth(ctx); err != nil {
			return nil, nil, err
		}

		p, err := s.Client.UserProfile(ctx)
		if err != nil {
			return nil, nil, err
		}

		return textResult(p), p, nil
	}
}

func dailySummaryHandler(s *Service) mcp.ToolHandlerFor[DateInput, *garmin.DailySummary] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DateInput) (*mcp.CallToolResult, *garmin.DailySummary, error) {
		if err := s.ensureAuth(ctx); err != nil {
			return nil, nil, err
		}

		day, err := parseDate(input.Date)
		if err != nil {
			return nil, nil, err
		}

		summary, err := s.Client.DailySummaryFor(ctx, day)
		if err != nil {
			return nil, nil, err
		}

		return textResult(summary), summary, nil
	}
}

func stepsHandler(s *Service) mcp.ToolHandlerFor[DateInput, any] {
	return dateDataHandler(s, s.clientSteps)
}

func sleepHandler(s *Service) mcp.ToolHandlerFor[DateInput, any] {
	return dateDataHandler(s, s.clientSleep)
}

func stressHandler(s *Service) mcp.ToolHandlerFor[DateInput, any] {
	return dateDataHandler(s, s.clientStress)
}

func (s *Service) clientSteps(ctx context.Context, day time.Time) (json.RawMessage, error) {
	return s.Client.DailySteps(ctx, day)
}

func (s *Service) clientSleep(ctx context.Context, day time.Time) (json.RawMessage, error) {
	return s.Client.DailySleep(ctx, day)
}

func (s *Service) clientStress(ctx context.Context, day time.Time) (json.RawMessage, error) {
	return s.Client.DailyStress(ctx, day)
}

// dateDataHandler wraps the date-keyed raw endpoints, which all share the
// same shape: parse the date, dispatch, hand the payload back verbatim.
func dateDataHandler(s *Service, fetch func(context.Context, time.Time) (json.RawMessage, error)) mcp.ToolHandlerFor[DateInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DateInput) (*mcp.CallToolResult, any, error) {
		if err := s.ensureAuth(ctx); err != nil {
			return nil, nil, err
		}

		day, err := parseDate(input.Date)
		if err != nil {
			return nil, nil, err
		}

		raw, err := fetch(ctx, day)
		if err != nil {
			return nil, nil, err
		}

		return rawResult(raw), nil, nil
	}
}

func heartRateZonesHandler(s *Service) mcp.ToolHandlerFor[ZonesInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ ZonesInput) (*mcp.CallToolResult, any, error) {
		if err := s.ensureAuth(ctx); err != nil {
			return nil, nil, err
		}

		raw, err := s.Client.HeartRateZones(ctx)
		if err != nil {
			return nil, nil, err
		}

		return rawResult(raw), nil, nil
	}
}

func workoutsHandler(s *Service) mcp.ToolHandlerFor[WorkoutsInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input WorkoutsInput) (*mcp.CallToolResult, any, error) {
		if err := s.ensureAuth(ctx); err != nil {
			return nil, nil, err
		}

		raw, err := s.Client.Workouts(ctx, input.Start, input.Limit)
		if err != nil {
			return nil, nil, err
		}

		return rawResult(raw), nil, nil
	}
}

func parseDate(date string) (time.Time, error) {
	if date == "" {
		return time.Now(), nil
	}

	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}

	return day, nil
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// rawResult passes an upstream JSON payload through as text content. An
// empty payload (a 204 from the data API) becomes an explicit null.
func rawResult(raw json.RawMessage) *mcp.CallToolResult {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}
}
