package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
)

// Data endpoint wrappers. These are deliberately thin: format a path,
// dispatch through ConnectAPI, pull out the fields the tools surface.
// The full Connect API has dozens of near-identical endpoints; this is
// the representative set the daemon exposes.

const dateLayout = "2006-01-02"

// Profile is the subset of the social profile the daemon surfaces.
// DisplayName doubles as a path segment on several wellness endpoints.
type Profile struct {
	DisplayName string `json:"displayName"`
	FullName    string `json:"fullName"`
	UserName    string `json:"userName"`
}

// UserProfile fetches the social profile of the signed-in user.
func (c *Client) UserProfile(ctx context.Context) (*Profile, error) {
	raw, err := c.ConnectAPI(ctx, http.MethodGet, "/userprofile-service/socialProfile", nil)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("empty profile response")
	}

	r := gjson.ParseBytes(raw)

	p := &Profile{
		DisplayName: r.Get("displayName").Str,
		FullName:    r.Get("fullName").Str,
		UserName:    r.Get("userName").Str,
	}
	if p.DisplayName == "" {
		return nil, fmt.Errorf("profile response missing displayName")
	}

	return p, nil
}

// getDisplayName returns the cached display name, fetching the profile
// once per session. Logout clears the cache along with the tokens.
func (c *Client) getDisplayName(ctx context.Context) (string, error) {
	c.mu.RLock()
	name := c.displayName
	c.mu.RUnlock()

	if name != "" {
		return name, nil
	}

	p, err := c.UserProfile(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.displayName = p.DisplayName
	c.mu.Unlock()

	return p.DisplayName, nil
}

// DailySummary holds the headline numbers from the daily user summary.
type DailySummary struct {
	CalendarDate   string `json:"calendarDate"`
	TotalSteps     int64  `json:"totalSteps"`
	TotalDistance  int64  `json:"totalDistanceMeters"`
	RestingHR      int64  `json:"restingHeartRate"`
	TotalKilocals  int64  `json:"totalKilocalories"`
	SleepingSecs   int64  `json:"sleepingSeconds"`
	StressDuration int64  `json:"totalStressDuration"`
}

// DailySummaryFor fetches the user summary for one calendar day.
func (c *Client) DailySummaryFor(ctx context.Context, day time.Time) (*DailySummary, error) {
	name, err := c.getDisplayName(ctx)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/usersummary-service/usersummary/daily/%s?calendarDate=%s",
		url.PathEscape(name), day.Format(dateLayout))

	raw, err := c.ConnectAPI(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	r := gjson.ParseBytes(raw)

	return &DailySummary{
		CalendarDate:   r.Get("calendarDate").Str,
		TotalSteps:     r.Get("totalSteps").Int(),
		TotalDistance:  r.Get("totalDistanceMeters").Int(),
		RestingHR:      r.Get("restingHeartRate").Int(),
		TotalKilocals:  r.Get("totalKilocalories").Int(),
		SleepingSecs:   r.Get("sleepingSeconds").Int(),
		StressDuration: r.Get("totalStressDuration").Int(),
	}, nil
}

// DailySteps fetches the per-interval step series for one day.
func (c *Client) DailySteps(ctx context.Context, day time.Time) (json.RawMessage, error) {
	d := day.Format(dateLayout)

	return c.ConnectAPI(ctx, http.MethodGet,
		fmt.Sprintf("/usersummary-service/stats/steps/daily/%s/%s", d, d), nil)
}

// DailySleep fetches sleep data for one night.
func (c *Client) DailySleep(ctx context.Context, day time.Time) (json.RawMessage, error) {
	name, err := c.getDisplayName(ctx)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/wellness-service/wellness/dailySleepData/%s?date=%s&nonSleepBufferMinutes=60",
		url.PathEscape(name), day.Format(dateLayout))

	return c.ConnectAPI(ctx, http.MethodGet, path, nil)
}

// DailyStress fetches the stress timeline for one day.
func (c *Client) DailyStress(ctx context.Context, day time.Time) (json.RawMessage, error) {
	return c.ConnectAPI(ctx, http.MethodGet,
		"/wellness-service/wellness/dailyStress/"+day.Format(dateLayout), nil)
}

// HeartRateZones fetches the configured heart rate zones.
func (c *Client) HeartRateZones(ctx context.Context) (json.RawMessage, error) {
	return c.ConnectAPI(ctx, http.MethodGet, "/biometric-service/heartRateZones", nil)
}

// Workouts lists saved workouts, newest first.
func (c *Client) Workouts(ctx context.Context, start, limit int) (json.RawMessage, error) {
	if limit <= 0 {
		limit = 20
	}

	return c.ConnectAPI(ctx, http.MethodGet,
		fmt.Sprintf("/workout-service/workouts?start=%d&limit=%d", start, limit), nil)
}
