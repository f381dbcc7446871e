package apify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-engine/internal/provider"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:           srv.URL,
		ScrapeActor:       "apify/instagram-scraper",
		SendActor:         "acme/igdm",
		WaitSeconds:       1,
		RequestsPerSecond: 1000,
		Burst:             100,
	}, func() string { return "tok" }, nil)
}

func TestLaunch_PostsInputAndOptions(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	var gotBody map[string]any

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"run-1","status":"READY"}}`))
	})

	handle, err := c.Launch(context.Background(), provider.KindScrape, provider.ScrapeInput{
		Usernames:   []string{"nasa", "esa"},
		ResultsType: "followers",
		Proxy:       &provider.Proxy{UseApifyProxy: true},
	}, provider.LaunchOptions{MemoryMB: 1024, TimeoutSeconds: 600})
	require.NoError(t, err)
	assert.Equal(t, "run-1", handle)

	assert.Equal(t, "/v2/acts/apify~instagram-scraper/runs", gotPath)
	assert.Equal(t, "memory=1024&timeout=600", gotQuery)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, []any{"nasa", "esa"}, gotBody["usernames"])
	assert.Equal(t, "followers", gotBody["resultsType"])
	_, hasLimit := gotBody["resultsLimit"]
	assert.False(t, hasLimit, "zero limit is omitted")
}

func TestLaunch_RejectionIsLaunchError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"not-enough-usage","message":"Monthly usage hard limit exceeded"}}`))
	})

	_, err := c.Launch(context.Background(), provider.KindSend, provider.SendInput{Recipients: []string{"bob"}}, provider.LaunchOptions{})
	require.Error(t, err)

	var le *provider.LaunchError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, provider.KindSend, le.Kind)
	assert.Equal(t, "Monthly usage hard limit exceeded", le.Message)
}

func TestLaunch_NoTokenNeverCallsOut(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, ScrapeActor: "a/b"}, func() string { return "" }, nil)
	_, err := c.Launch(context.Background(), provider.KindScrape, provider.ScrapeInput{}, provider.LaunchOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoToken))
	assert.False(t, called)
}

func TestPoll_MapsStatuses(t *testing.T) {
	status := "RUNNING"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/actor-runs/run-1", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("waitForFinish"))
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"id": "run-1", "status": status, "statusMessage": "actor crashed",
		}})
	})

	cases := map[string]provider.State{
		"READY":      provider.StateRunning,
		"RUNNING":    provider.StateRunning,
		"TIMING-OUT": provider.StateRunning,
		"ABORTING":   provider.StateRunning,
		"SUCCEEDED":  provider.StateSucceeded,
		"FAILED":     provider.StateFailed,
		"TIMED-OUT":  provider.StateFailed,
		"ABORTED":    provider.StateFailed,
	}
	for in, want := range cases {
		status = in
		st, err := c.Poll(context.Background(), "run-1")
		require.NoError(t, err, in)
		assert.Equal(t, want, st.State, in)
		assert.Equal(t, "actor crashed", st.Message)
	}
}

func TestPoll_PacingPastDeadlineIsDeadlineExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "run-1", "status": "RUNNING"}})
	}))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, WaitSeconds: 1, RequestsPerSecond: 0.1, Burst: 1},
		func() string { return "tok" }, nil)

	_, err := c.Poll(context.Background(), "run-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = c.Poll(ctx, "run-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, ctx.Err())
}

func TestResults_ReadsDefaultDataset(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/actor-runs/run-1":
			_, _ = w.Write([]byte(`{"data":{"id":"run-1","status":"SUCCEEDED","defaultDatasetId":"ds-9"}}`))
		case "/v2/datasets/ds-9/items":
			_, _ = w.Write([]byte(`[{"username":"alice","followersCount":12},{"user":{"username":"bob"}}]`))
		default:
			http.NotFound(w, r)
		}
	})

	items, err := c.Results(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "alice", items[0]["username"])
	assert.EqualValues(t, 12, items[0]["followersCount"])
}
