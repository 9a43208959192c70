package garmin

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestUserProfile(t *testing.T) {
	b, srv := newAuthBackend(t)
	b.mux.HandleFunc("/userprofile-service/socialProfile", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"displayName":"runner-1","fullName":"Test Runner","userName":"runner@example.com","extra":"ignored"}`))
	})

	c := newClientAgainst(t, srv, NewMockTokenStore(gomock.NewController(t)))
	c.setTokens(freshTokenPair())

	p, err := c.UserProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "runner-1", p.DisplayName)
	assert.Equal(t, "Test Runner", p.FullName)
	assert.Equal(t, "runner@example.com", p.UserName)
}

func TestUserProfile_MissingDisplayName(t *testing.T) {
	b, srv := newAuthBackend(t)
	b.mux.HandleFunc("/userprofile-service/socialProfile", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fullName":"No Name"}`))
	})

	c := newClientAgainst(t, srv, NewMockTokenStore(gomock.NewController(t)))
	c.setTokens(freshTokenPair())

	_, err := c.UserProfile(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "displayName")
}

func TestGetDisplayName_CachedAcrossCalls(t *testing.T) {
	var profileHits atomic.Int32

	b, srv := newAuthBackend(t)
	b.mux.HandleFunc("/userprofile-service/socialProfile", func(w http.ResponseWriter, r *http.Request) {
		profileHits.Add(1)
		w.Write([]byte(`{"displayName":"runner-1"}`))
	})
	b.mux.HandleFunc("/usersummary-service/usersummary/daily/runner-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-08-31", r.URL.Query().Get("calendarDate"))
		w.Write([]byte(`{"calendarDate":"2026-08-31","totalSteps":12345,"restingHeartRate":52}`))
	})

	c := newClientAgainst(t, srv, NewMockTokenStore(gomock.NewController(t)))
	c.setTokens(freshTokenPair())

	day := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	for range 3 {
		s, err := c.DailySummaryFor(context.Background(), day)
		require.NoError(t, err)
		assert.Equal(t, int64(12345), s.TotalSteps)
		assert.Equal(t, int64(52), s.RestingHR)
	}

	assert.Equal(t, int32(1), profileHits.Load(), "profile is fetched once per session")
}

func TestDisplayNameCache_ClearedOnLogout(t *testing.T) {
	var profileHits atomic.Int32

	b, srv := newAuthBackend(t)
	b.mux.HandleFunc("/userprofile-service/socialProfile", func(w http.ResponseWriter, r *http.Request) {
		profileHits.Add(1)
		w.Write([]byte(`{"displayName":"runner-1"}`))
	})

	ctrl := gomock.NewController(t)
	store := NewMockTokenStore(ctrl)
	store.EXPECT().Clear().Return(nil)

	c := newClientAgainst(t, srv, store)
	c.setTokens(freshTokenPair())

	_, err := c.getDisplayName(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Logout(context.Background()))
	c.setTokens(freshTokenPair())

	_, err = c.getDisplayName(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), profileHits.Load())
}

func TestDailySteps_PathUsesSameDayTwice(t *testing.T) {
	b, srv := newAuthBackend(t)
	b.mux.HandleFunc("/usersummary-service/stats/steps/daily/2026-08-31/2026-08-31", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"steps":100}]`))
	})

	c := newClientAgainst(t, srv, NewMockTokenStore(gomock.NewController(t)))
	c.setTokens(freshTokenPair())

	raw, err := c.DailySteps(context.Background(), time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"steps":100}]`, string(raw))
}

func TestDailySleep_PathAndParams(t *testing.T) {
	b, srv := newAuthBackend(t)
	b.mux.HandleFunc("/userprofile-service/socialProfile", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"displayName":"runner-1"}`))
	})
	b.mux.HandleFunc("/wellness-service/wellness/dailySleepData/runner-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-08-31", r.URL.Query().Get("date"))
		assert.Equal(t, "60", r.URL.Query().Get("nonSleepBufferMinutes"))
		w.Write([]byte(`{"dailySleepDTO":{}}`))
	})

	c := newClientAgainst(t, srv, NewMockTokenStore(gomock.NewController(t)))
	c.setTokens(freshTokenPair())

	_, err := c.DailySleep(context.Background(), time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
}

func TestDailyStress_Path(t *testing.T) {
	b, srv := newAuthBackend(t)
	b.mux.HandleFunc("/wellness-service/wellness/dailyStress/2026-08-31", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"avgStressLevel":25}`))
	})

	c := newClientAgainst(t, srv, NewMockTokenStore(gomock.NewController(t)))
	c.setTokens(freshTokenPair())

	raw, err := c.DailyStress(context.Background(), time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.JSONEq(t, `{"avgStressLevel":25}`, string(raw))
}

func TestHeartRateZones(t *testing.T) {
	b, srv := newAuthBackend(t)
	b.mux.HandleFunc("/biometric-service/heartRateZones", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"zone":1}]`))
	})

	c := newClientAgainst(t, srv, NewMockTokenStore(gomock.NewController(t)))
	c.setTokens(freshTokenPair())

	raw, err := c.HeartRateZones(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `[{"zone":1}]`, string(raw))
}

func TestWorkouts_DefaultLimit(t *testing.T) {
	b, srv := newAuthBackend(t)
	b.mux.HandleFunc("/workout-service/workouts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0", r.URL.Query().Get("start"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		w.Write([]byte(`[]`))
	})

	c := newClientAgainst(t, srv, NewMockTokenStore(gomock.NewController(t)))
	c.setTokens(freshTokenPair())

	_, err := c.Workouts(context.Background(), 0, 0)
	require.NoError(t, err)
}

func TestWorkouts_ExplicitRange(t *testing.T) {
	b, srv := newAuthBackend(t)
	b.mux.HandleFunc("/workout-service/workouts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("start"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`[]`))
	})

	c := newClientAgainst(t, srv, NewMockTokenStore(gomock.NewController(t)))
	c.setTokens(freshTokenPair())

	_, err := c.Workouts(context.Background(), 10, 5)
	require.NoError(t, err)
}
