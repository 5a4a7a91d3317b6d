package brewersfriend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *testClock) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	clock := &testClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := New("key-123", "42", 0, WithBaseURL(srv.URL+"/fermentation/import"), WithClock(clock.now))
	return c, clock
}

func TestUpdatePostsReading(t *testing.T) {
	var got Reading
	var path, apiKey string
	c, clock := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		apiKey = r.Header.Get("X-API-KEY")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	require.False(t, c.Due())
	clock.t = clock.t.Add(time.Minute)
	require.True(t, c.Due(), "first push is allowed a minute after start")

	require.NoError(t, c.Update(context.Background(), 19.5, 17.25, 1.048))
	require.Equal(t, "/fermentation/import/42", path)
	require.Equal(t, "key-123", apiKey)
	require.Equal(t, Reading{Name: "fermenter", Temp: 19.5, TempUnit: "C", Gravity: 1.048, GravityUnit: "G", Ambient: 17.25}, got)
}

func TestUpdateRateLimitedLocally(t *testing.T) {
	calls := 0
	c, clock := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})

	require.ErrorIs(t, c.Update(context.Background(), 20, 18, 0), ErrTooSoon)
	require.Zero(t, calls)

	clock.t = clock.t.Add(time.Minute)
	require.NoError(t, c.Update(context.Background(), 20, 18, 0))

	clock.t = clock.t.Add(MinInterval - time.Second)
	require.ErrorIs(t, c.Update(context.Background(), 20, 18, 0), ErrTooSoon)

	clock.t = clock.t.Add(time.Second)
	require.NoError(t, c.Update(context.Background(), 20, 18, 0))
	require.Equal(t, 2, calls)
}

func TestUpdateStatusHandling(t *testing.T) {
	cases := []struct {
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{http.StatusTooManyRequests, "", func(t *testing.T, err error) {
			require.ErrorIs(t, err, ErrRateLimited)
		}},
		{http.StatusUnauthorized, `{"detail":"invalid api key"}`, func(t *testing.T, err error) {
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
			require.Equal(t, "invalid api key", apiErr.Detail)
		}},
		{http.StatusBadGateway, "oops", func(t *testing.T, err error) {
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			require.Equal(t, "brewersfriend: status 502", err.Error())
		}},
	}
	for _, tc := range cases {
		c, clock := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		})
		clock.t = clock.t.Add(time.Minute)
		tc.check(t, c.Update(context.Background(), 20, 18, 0))
	}
}

func TestUpdateOmitsUnknownGravity(t *testing.T) {
	var raw map[string]any
	c, clock := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
	})
	clock.t = clock.t.Add(time.Minute)

	require.NoError(t, c.Update(context.Background(), 20, 18, 0))
	require.NotContains(t, raw, "gravity")
	require.NotContains(t, raw, "gravity_unit")
}

func TestNewRaisesInterval(t *testing.T) {
	c := New("k", "1", time.Minute)
	require.Equal(t, MinInterval, c.interval)

	c = New("k", "1", time.Hour)
	require.Equal(t, time.Hour, c.interval)
}
