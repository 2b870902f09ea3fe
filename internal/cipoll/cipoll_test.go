package cipoll

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepoURL(t *testing.T) {
	cases := []struct {
		in          string
		owner, repo string
	}{
		{"https://github.com/acme/app", "acme", "app"},
		{"https://github.com/acme/app.git", "acme", "app"},
		{"git@github.com:acme/app.git", "acme", "app"},
	}
	for _, tc := range cases {
		owner, repo, err := ParseRepoURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.owner, owner)
		assert.Equal(t, tc.repo, repo)
	}

	_, _, err := ParseRepoURL("https://github.com/acme")
	assert.Error(t, err)
}

func TestPoll_SuccessAfterPending(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/app/commits/abc123/status", r.URL.Path)
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"state":"pending","total_count":1,"statuses":[{"context":"ci","description":"running"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"state":"success","total_count":1,"statuses":[{"context":"ci","description":"all green"}]}`))
	}))
	defer srv.Close()

	c := NewClient("tok")
	c.BaseURL = srv.URL
	c.Interval = 10 * time.Millisecond

	st, err := c.Poll(context.Background(), "https://github.com/acme/app", "abc123", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "success", st.State)
	assert.Contains(t, st.Message, "all green")
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestPoll_NoChecksConfiguredCountsAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"pending","total_count":0,"statuses":[]}`))
	}))
	defer srv.Close()

	c := NewClient("tok")
	c.BaseURL = srv.URL
	st, err := c.Poll(context.Background(), "https://github.com/acme/app", "abc", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "success", st.State)
}

func TestPoll_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"pending","total_count":1,"statuses":[]}`))
	}))
	defer srv.Close()

	c := NewClient("tok")
	c.BaseURL = srv.URL
	st, err := c.Poll(context.Background(), "https://github.com/acme/app", "abc", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "timeout", st.State)
}

func TestFork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/app/forks", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"clone_url":"https://github.com/bot/app.git"}`))
	}))
	defer srv.Close()

	c := NewClient("tok")
	c.BaseURL = srv.URL
	cloneURL, err := c.Fork(context.Background(), "https://github.com/acme/app")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/bot/app.git", cloneURL)
}

func TestEnabled(t *testing.T) {
	assert.False(t, NewClient("").Enabled())
	assert.True(t, NewClient("tok").Enabled())
	var nilClient *Client
	assert.False(t, nilClient.Enabled())
}
